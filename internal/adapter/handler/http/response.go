package http

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/th1s9uy/saas-billing/internal/domain/dto"
	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
	"github.com/th1s9uy/saas-billing/internal/middleware/auth"
	pkgerrors "github.com/th1s9uy/saas-billing/pkg/errors"
)

// fail logs err and converts it into the HTTP error echo renders.
func fail(c echo.Context, logger *zap.Logger, err error, msg string) error {
	fields := []zap.Field{
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
	}
	if orgID, ok := c.Get("organization_id").(string); ok {
		fields = append(fields, zap.String("organization_id", orgID))
	}
	pkgerrors.LogError(logger, err, msg, fields...)
	return pkgerrors.ToHTTPError(err)
}

// currentUser returns the caller authenticated by the JWT middleware. The
// error is ready to be returned from a handler.
func currentUser(c echo.Context) (*auth.AuthUser, error) {
	user, err := auth.GetUserFromContext(c)
	if err != nil {
		return nil, pkgerrors.ToHTTPError(pkgerrors.NewAppError(pkgerrors.ErrUnauthenticated, "authentication required", err))
	}
	return user, nil
}

// bind decodes and validates a request body.
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return domainErrors.NewValidationError("body", "invalid request body")
	}
	return c.Validate(req)
}

func parseUUID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domainErrors.NewValidationError(field, "invalid uuid '%s'", raw)
	}
	return id, nil
}

func queryInt(c echo.Context, name string, min int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return 0, domainErrors.NewValidationError(name, "invalid %s parameter", name)
	}
	return n, nil
}

// parsePage reads limit and offset query parameters.
func parsePage(c echo.Context) (dto.PageRequest, error) {
	limit, err := queryInt(c, "limit", 1)
	if err != nil {
		return dto.PageRequest{}, err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return dto.PageRequest{}, err
	}
	return dto.PageRequest{Limit: limit, Offset: offset}, nil
}
