package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/usecase"
)

// CreditHandler handles credit-related HTTP requests
type CreditHandler struct {
	logger *zap.Logger
	ledger *usecase.LedgerService
}

// NewCreditHandler creates a new credit handler instance
func NewCreditHandler(logger *zap.Logger, ledger *usecase.LedgerService) *CreditHandler {
	return &CreditHandler{
		logger: logger,
		ledger: ledger,
	}
}

type consumeCreditsRequest struct {
	EventName string                 `json:"event_name" validate:"required,max=100"`
	Quantity  int                    `json:"quantity" validate:"omitempty,min=1,max=10000"`
	Metadata  map[string]interface{} `json:"metadata"`
}

type adjustCreditsRequest struct {
	Amount      int64      `json:"amount" validate:"required,gt=0"`
	Description string     `json:"description" validate:"required,max=500"`
	ReferenceID string     `json:"reference_id" validate:"omitempty,max=200"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// GetBalance handles GET /api/v1/credits/balance
func (h *CreditHandler) GetBalance(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	balance, err := h.ledger.GetBalance(c.Request().Context(), user.OrganizationID)
	if err != nil {
		return fail(c, h.logger, err, "Failed to get credit balance")
	}
	return c.JSON(http.StatusOK, balance)
}

// ConsumeCredits handles POST /api/v1/credits/consume. Insufficient credits
// are answered with 200 and success false.
func (h *CreditHandler) ConsumeCredits(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req consumeCreditsRequest
	if err := bind(c, &req); err != nil {
		return fail(c, h.logger, err, "Invalid consume request")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Metadata == nil {
		req.Metadata = map[string]interface{}{}
	}
	req.Metadata["user_id"] = user.UserID.String()

	result, err := h.ledger.ConsumeCredits(c.Request().Context(), usecase.ConsumeCreditsInput{
		OrganizationID: user.OrganizationID,
		EventName:      req.EventName,
		Quantity:       req.Quantity,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return fail(c, h.logger, err, "Failed to consume credits")
	}
	return c.JSON(http.StatusOK, result)
}

// ListTransactions handles GET /api/v1/credits/transactions
func (h *CreditHandler) ListTransactions(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	page, err := parsePage(c)
	if err != nil {
		return fail(c, h.logger, err, "Invalid pagination")
	}
	filters := dto.TransactionFilters{Limit: page.Limit, Offset: page.Offset}

	if raw := c.QueryParam("start_date"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fail(c, h.logger, domainErrors.NewValidationError("start_date", "use RFC 3339"), "Invalid filter")
		}
		filters.StartDate = &start
	}
	if raw := c.QueryParam("end_date"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fail(c, h.logger, domainErrors.NewValidationError("end_date", "use RFC 3339"), "Invalid filter")
		}
		filters.EndDate = &end
	}
	if raw := c.QueryParam("transaction_type"); raw != "" {
		txType := model.TransactionType(raw)
		if !txType.Valid() {
			return fail(c, h.logger, domainErrors.NewValidationError("transaction_type", "unknown transaction type '%s'", raw), "Invalid filter")
		}
		filters.TransactionType = &txType
	}
	if raw := c.QueryParam("source"); raw != "" {
		source := model.TransactionSource(raw)
		if !source.Valid() {
			return fail(c, h.logger, domainErrors.NewValidationError("source", "unknown source '%s'", raw), "Invalid filter")
		}
		filters.Source = &source
	}

	response, err := h.ledger.ListTransactions(c.Request().Context(), user.OrganizationID, filters)
	if err != nil {
		return fail(c, h.logger, err, "Failed to list transactions")
	}
	return c.JSON(http.StatusOK, response)
}

// AdjustCredits handles POST /api/v1/credits/adjustments
func (h *CreditHandler) AdjustCredits(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req adjustCreditsRequest
	if err := bind(c, &req); err != nil {
		return fail(c, h.logger, err, "Invalid adjustment request")
	}

	txn, err := h.ledger.AddCredits(c.Request().Context(), usecase.AddCreditsInput{
		OrganizationID: user.OrganizationID,
		Amount:         req.Amount,
		Source:         model.AdminAdjustmentSource(),
		ExpiresAt:      req.ExpiresAt,
		Description:    req.Description,
		ReferenceID:    req.ReferenceID,
		Metadata:       map[string]interface{}{"adjusted_by": user.UserID.String()},
	})
	if err != nil {
		return fail(c, h.logger, err, "Failed to adjust credits")
	}

	h.logger.Info("Credits adjusted by admin",
		zap.String("organization_id", user.OrganizationID.String()),
		zap.String("user_id", user.UserID.String()),
		zap.Int64("amount", req.Amount))
	return c.JSON(http.StatusCreated, dto.NewCreditTransactionDTO(*txn))
}

// VerifyBalance handles GET /api/v1/credits/audit. A mismatch is reported in
// the body rather than as an error.
func (h *CreditHandler) VerifyBalance(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	audit, err := h.ledger.VerifyBalance(c.Request().Context(), user.OrganizationID)
	if audit != nil {
		return c.JSON(http.StatusOK, audit)
	}
	return fail(c, h.logger, err, "Failed to verify balance")
}
