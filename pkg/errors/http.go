package errors

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ToHTTPStatus converts an error code to an HTTP status.
func ToHTTPStatus(code string) int {
	httpStatus, _ := GetCodeMapping(code)
	return httpStatus
}

// ToHTTPError converts err to an echo HTTP error. Coded errors keep their message,
// anything else becomes a 500 without leaking internals.
func ToHTTPError(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}

	if echoErr, ok := err.(*echo.HTTPError); ok {
		return echoErr
	}

	if code, ok := CodeOf(err); ok {
		status := ToHTTPStatus(code)
		if status >= http.StatusInternalServerError {
			return echo.NewHTTPError(status, echo.Map{
				"error": http.StatusText(status),
				"code":  code,
			}).SetInternal(err)
		}
		return echo.NewHTTPError(status, echo.Map{
			"error": err.Error(),
			"code":  code,
		}).SetInternal(err)
	}

	return echo.NewHTTPError(http.StatusInternalServerError, echo.Map{
		"error": http.StatusText(http.StatusInternalServerError),
		"code":  ErrInternal,
	}).SetInternal(err)
}
