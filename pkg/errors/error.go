package errors

import (
	"errors"
	"fmt"
)

var (
	New    = errors.New
	Unwrap = errors.Unwrap
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
)

// Error is implemented by every error that carries a transport-neutral code.
type Error interface {
	error
	Code() string
	Unwrap() error
}

// AppError is the generic coded error.
type AppError struct {
	code    string
	message string
	err     error
}

func (e *AppError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.message, e.err.Error())
	}
	return e.message
}

func (e *AppError) Code() string {
	return e.code
}

func (e *AppError) Unwrap() error {
	return e.err
}

// NewAppError creates a coded error.
func NewAppError(code string, message string, err error) *AppError {
	return &AppError{
		code:    code,
		message: message,
		err:     err,
	}
}

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) (string, bool) {
	var coded Error
	if As(err, &coded) {
		return coded.Code(), true
	}
	return "", false
}
