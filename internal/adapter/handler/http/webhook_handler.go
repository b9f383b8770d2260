package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/usecase"
)

// maxWebhookBodyBytes is the largest delivery accepted.
const maxWebhookBodyBytes = 65536

// WebhookHandler receives gateway webhook deliveries
type WebhookHandler struct {
	logger     *zap.Logger
	reconciler *usecase.WebhookReconciler
}

// NewWebhookHandler creates a new webhook handler instance
func NewWebhookHandler(logger *zap.Logger, reconciler *usecase.WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{
		logger:     logger,
		reconciler: reconciler,
	}
}

// HandleStripeWebhook handles POST /webhooks/stripe. It answers as soon as
// the event is recorded; processing continues in the background.
func (h *WebhookHandler) HandleStripeWebhook(c echo.Context) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Response(), c.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Rejected oversized webhook", zap.Int64("limit", tooLarge.Limit))
			return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "payload too large"})
		}
		h.logger.Error("Failed to read webhook body", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "failed to read request body"})
	}

	result, err := h.reconciler.Receive(c.Request().Context(), body, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		var sigErr *domainErrors.SignatureVerificationError
		if errors.As(err, &sigErr) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid signature"})
		}
		return fail(c, h.logger, err, "Failed to record webhook event")
	}

	return c.JSON(http.StatusOK, echo.Map{"received": true, "result": result})
}
