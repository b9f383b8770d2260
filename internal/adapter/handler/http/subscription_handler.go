package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/model"
	"github.com/th1s9uy/saas-billing/internal/usecase"
)

// SubscriptionHandler handles subscription-related HTTP requests
type SubscriptionHandler struct {
	logger        *zap.Logger
	subscriptions *usecase.SubscriptionService
}

// NewSubscriptionHandler creates a new subscription handler instance
func NewSubscriptionHandler(logger *zap.Logger, subscriptions *usecase.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		logger:        logger,
		subscriptions: subscriptions,
	}
}

type createSubscriptionRequest struct {
	PlanID string `json:"plan_id" validate:"required,uuid"`
}

type cancelSubscriptionRequest struct {
	// Immediate ends the subscription now instead of at the period end.
	Immediate bool `json:"immediate"`
}

func (h *SubscriptionHandler) respond(c echo.Context, status int, sub *model.OrganizationSubscription) error {
	resp, err := h.subscriptions.GetSubscription(c.Request().Context(), sub.OrganizationID)
	if err != nil {
		return fail(c, h.logger, err, "Failed to load subscription")
	}
	return c.JSON(status, resp)
}

// GetSubscription handles GET /api/v1/subscription
func (h *SubscriptionHandler) GetSubscription(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	resp, err := h.subscriptions.GetSubscription(c.Request().Context(), user.OrganizationID)
	if err != nil {
		return fail(c, h.logger, err, "Failed to get subscription")
	}
	return c.JSON(http.StatusOK, resp)
}

// CreateSubscription handles POST /api/v1/subscription. Only free plans can
// be subscribed directly; paid plans go through checkout.
func (h *SubscriptionHandler) CreateSubscription(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req createSubscriptionRequest
	if err := bind(c, &req); err != nil {
		return fail(c, h.logger, err, "Invalid subscription request")
	}
	planID, err := parseUUID("plan_id", req.PlanID)
	if err != nil {
		return fail(c, h.logger, err, "Invalid subscription request")
	}

	sub, err := h.subscriptions.CreateFreeSubscription(c.Request().Context(), user.OrganizationID, planID)
	if err != nil {
		return fail(c, h.logger, err, "Failed to create subscription")
	}
	return h.respond(c, http.StatusCreated, sub)
}

// CancelSubscription handles POST /api/v1/subscription/cancel
func (h *SubscriptionHandler) CancelSubscription(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req cancelSubscriptionRequest
	if c.Request().ContentLength > 0 {
		if err := bind(c, &req); err != nil {
			return fail(c, h.logger, err, "Invalid cancel request")
		}
	}

	var sub *model.OrganizationSubscription
	if req.Immediate {
		sub, err = h.subscriptions.Cancel(c.Request().Context(), user.OrganizationID, time.Now().UTC())
	} else {
		sub, err = h.subscriptions.ScheduleCancellation(c.Request().Context(), user.OrganizationID)
	}
	if err != nil {
		return fail(c, h.logger, err, "Failed to cancel subscription")
	}

	h.logger.Info("Subscription cancellation requested",
		zap.String("organization_id", user.OrganizationID.String()),
		zap.String("user_id", user.UserID.String()),
		zap.Bool("immediate", req.Immediate))
	return h.respond(c, http.StatusOK, sub)
}

// ReactivateSubscription handles POST /api/v1/subscription/reactivate
func (h *SubscriptionHandler) ReactivateSubscription(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	sub, err := h.subscriptions.Reactivate(c.Request().Context(), user.OrganizationID)
	if err != nil {
		return fail(c, h.logger, err, "Failed to reactivate subscription")
	}
	return h.respond(c, http.StatusOK, sub)
}
