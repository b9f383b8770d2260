package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/usecase"
)

// CheckoutHandler starts hosted checkout and portal sessions
type CheckoutHandler struct {
	logger   *zap.Logger
	checkout *usecase.CheckoutService
}

// NewCheckoutHandler creates a new checkout handler instance
func NewCheckoutHandler(logger *zap.Logger, checkout *usecase.CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{
		logger:   logger,
		checkout: checkout,
	}
}

type subscriptionCheckoutRequest struct {
	PlanID string `json:"plan_id" validate:"required,uuid"`
}

type creditCheckoutRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
}

// CreateSubscriptionCheckout handles POST /api/v1/checkout/subscription
func (h *CheckoutHandler) CreateSubscriptionCheckout(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req subscriptionCheckoutRequest
	if err := bind(c, &req); err != nil {
		return fail(c, h.logger, err, "Invalid checkout request")
	}
	planID, err := parseUUID("plan_id", req.PlanID)
	if err != nil {
		return fail(c, h.logger, err, "Invalid checkout request")
	}

	session, err := h.checkout.CreateSubscriptionCheckout(c.Request().Context(), user.OrganizationID, planID, user.Email)
	if err != nil {
		return fail(c, h.logger, err, "Failed to create subscription checkout")
	}
	return c.JSON(http.StatusOK, session)
}

// CreateCreditCheckout handles POST /api/v1/checkout/credits
func (h *CheckoutHandler) CreateCreditCheckout(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var req creditCheckoutRequest
	if err := bind(c, &req); err != nil {
		return fail(c, h.logger, err, "Invalid checkout request")
	}
	productID, err := parseUUID("product_id", req.ProductID)
	if err != nil {
		return fail(c, h.logger, err, "Invalid checkout request")
	}

	session, err := h.checkout.CreateCreditCheckout(c.Request().Context(), user.OrganizationID, productID, user.Email)
	if err != nil {
		return fail(c, h.logger, err, "Failed to create credit checkout")
	}
	return c.JSON(http.StatusOK, session)
}

// CreatePortalSession handles POST /api/v1/billing/portal
func (h *CheckoutHandler) CreatePortalSession(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	session, err := h.checkout.CreatePortalSession(c.Request().Context(), user.OrganizationID)
	if err != nil {
		return fail(c, h.logger, err, "Failed to create portal session")
	}
	return c.JSON(http.StatusOK, session)
}
