package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/usecase"
)

// BillingHandler serves the billing overview and payment history
type BillingHandler struct {
	logger  *zap.Logger
	billing *usecase.BillingService
}

// NewBillingHandler creates a new billing handler instance
func NewBillingHandler(logger *zap.Logger, billing *usecase.BillingService) *BillingHandler {
	return &BillingHandler{
		logger:  logger,
		billing: billing,
	}
}

// GetSummary handles GET /api/v1/billing/summary
func (h *BillingHandler) GetSummary(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	summary, err := h.billing.GetSummary(c.Request().Context(), user.OrganizationID)
	if err != nil {
		return fail(c, h.logger, err, "Failed to get billing summary")
	}
	return c.JSON(http.StatusOK, summary)
}

// ListHistory handles GET /api/v1/billing/history
func (h *BillingHandler) ListHistory(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	page, err := parsePage(c)
	if err != nil {
		return fail(c, h.logger, err, "Invalid pagination")
	}
	history, err := h.billing.ListHistory(c.Request().Context(), user.OrganizationID, page)
	if err != nil {
		return fail(c, h.logger, err, "Failed to list billing history")
	}
	return c.JSON(http.StatusOK, history)
}
