package errors

// Error codes shared by every transport.
const (
	ErrInternal         = "INTERNAL"
	ErrNotFound         = "NOT_FOUND"
	ErrInvalidArgument  = "INVALID_ARGUMENT"
	ErrUnauthenticated  = "UNAUTHENTICATED"
	ErrUnauthorized     = "UNAUTHORIZED"
	ErrConflict         = "CONFLICT"
	ErrTimeout          = "TIMEOUT"
	ErrNotImplemented   = "NOT_IMPLEMENTED"
	ErrExternalService  = "EXTERNAL_SERVICE"
	ErrConsistency      = "CONSISTENCY"
	ErrSignatureInvalid = "SIGNATURE_INVALID"
)
