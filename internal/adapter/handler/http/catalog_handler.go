package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/usecase"
)

// CatalogHandler serves the public price list
type CatalogHandler struct {
	logger  *zap.Logger
	catalog *usecase.CatalogService
}

// NewCatalogHandler creates a new catalog handler instance
func NewCatalogHandler(logger *zap.Logger, catalog *usecase.CatalogService) *CatalogHandler {
	return &CatalogHandler{
		logger:  logger,
		catalog: catalog,
	}
}

// ListPlans handles GET /api/v1/plans
func (h *CatalogHandler) ListPlans(c echo.Context) error {
	plans, err := h.catalog.ListPlans(c.Request().Context())
	if err != nil {
		return fail(c, h.logger, err, "Failed to list plans")
	}
	return c.JSON(http.StatusOK, echo.Map{"plans": plans})
}

// GetPlan handles GET /api/v1/plans/:id
func (h *CatalogHandler) GetPlan(c echo.Context) error {
	id, err := parseUUID("id", c.Param("id"))
	if err != nil {
		return fail(c, h.logger, err, "Invalid plan id")
	}
	plan, err := h.catalog.GetPlan(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.logger, err, "Failed to get plan")
	}
	return c.JSON(http.StatusOK, plan)
}

// ListCreditProducts handles GET /api/v1/credit-products
func (h *CatalogHandler) ListCreditProducts(c echo.Context) error {
	products, err := h.catalog.ListCreditProducts(c.Request().Context())
	if err != nil {
		return fail(c, h.logger, err, "Failed to list credit products")
	}
	return c.JSON(http.StatusOK, echo.Map{"products": products})
}

// ListCreditEvents handles GET /api/v1/credit-events
func (h *CatalogHandler) ListCreditEvents(c echo.Context) error {
	events, err := h.catalog.ListCreditEvents(c.Request().Context())
	if err != nil {
		return fail(c, h.logger, err, "Failed to list credit events")
	}
	return c.JSON(http.StatusOK, echo.Map{"events": events})
}
