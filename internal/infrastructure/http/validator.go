package http

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	domainErrors "github.com/th1s9uy/saas-billing/internal/domain/errors"
)

// RequestValidator adapts validator/v10 to echo. Failures become
// ValidationErrors naming the first offending JSON field.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that reports JSON field names.
func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Validate implements echo.Validator.
func (v *RequestValidator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		if fe.Param() != "" {
			return domainErrors.NewValidationError(fe.Field(), "failed '%s=%s' validation", fe.Tag(), fe.Param())
		}
		return domainErrors.NewValidationError(fe.Field(), "failed '%s' validation", fe.Tag())
	}
	return domainErrors.NewValidationError("body", "%v", err)
}
