package errors

import (
	"fmt"

	"github.com/google/uuid"
	pkgerrors "github.com/th1s9uy/saas-billing/pkg/errors"
)

// ValidationError reports caller-fixable input, such as an invalid source/source_id pairing.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Code() string  { return pkgerrors.ErrInvalidArgument }
func (e *ValidationError) Unwrap() error { return nil }

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Code() string  { return pkgerrors.ErrNotFound }
func (e *NotFoundError) Unwrap() error { return nil }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ConflictError reports a uniqueness violation detected before writing.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }
func (e *ConflictError) Code() string  { return pkgerrors.ErrConflict }
func (e *ConflictError) Unwrap() error { return nil }

// NewConflictError creates a ConflictError.
func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ExternalServiceError wraps a failure of the data store, payment gateway or mail provider.
// It is never retried inside the billing core.
type ExternalServiceError struct {
	Service   string
	Operation string
	Cause     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Operation, e.Cause)
}

func (e *ExternalServiceError) Code() string  { return pkgerrors.ErrExternalService }
func (e *ExternalServiceError) Unwrap() error { return e.Cause }

// NewExternalServiceError creates an ExternalServiceError.
func NewExternalServiceError(service, operation string, cause error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Operation: operation, Cause: cause}
}

// ConsistencyError means the organization balance and its transaction log may disagree.
// It requires manual reconciliation.
type ConsistencyError struct {
	OrganizationID uuid.UUID
	Operation      string
	Detail         string
	Cause          error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("ledger inconsistency for organization %s during %s: %s", e.OrganizationID, e.Operation, e.Detail)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConsistencyError) Code() string  { return pkgerrors.ErrConsistency }
func (e *ConsistencyError) Unwrap() error { return e.Cause }

// NewConsistencyError creates a ConsistencyError.
func NewConsistencyError(orgID uuid.UUID, operation, detail string, cause error) *ConsistencyError {
	return &ConsistencyError{OrganizationID: orgID, Operation: operation, Detail: detail, Cause: cause}
}

// SignatureVerificationError means a webhook payload failed its authenticity check.
type SignatureVerificationError struct {
	Cause error
}

func (e *SignatureVerificationError) Error() string {
	return fmt.Sprintf("webhook signature verification failed: %v", e.Cause)
}

func (e *SignatureVerificationError) Code() string  { return pkgerrors.ErrSignatureInvalid }
func (e *SignatureVerificationError) Unwrap() error { return e.Cause }

// NewSignatureVerificationError creates a SignatureVerificationError.
func NewSignatureVerificationError(cause error) *SignatureVerificationError {
	return &SignatureVerificationError{Cause: cause}
}

// IsTyped reports whether err already belongs to the billing taxonomy.
func IsTyped(err error) bool {
	_, ok := pkgerrors.CodeOf(err)
	return ok
}

// AsExternal passes typed errors through and classifies anything else as an
// ExternalServiceError of service.
func AsExternal(service, operation string, err error) error {
	if err == nil || IsTyped(err) {
		return err
	}
	return NewExternalServiceError(service, operation, err)
}
