package errors

// CodePair maps an error code to its HTTP status and gRPC code.
type CodePair struct {
	HTTPStatus int
	GRPCCode   int
}

var codeMapping = map[string]CodePair{
	ErrInternal:         {500, 13}, // INTERNAL
	ErrNotFound:         {404, 5},  // NOT_FOUND
	ErrInvalidArgument:  {400, 3},  // INVALID_ARGUMENT
	ErrUnauthenticated:  {401, 16}, // UNAUTHENTICATED
	ErrUnauthorized:     {403, 7},  // PERMISSION_DENIED
	ErrConflict:         {409, 6},  // ALREADY_EXISTS
	ErrTimeout:          {504, 4},  // DEADLINE_EXCEEDED
	ErrNotImplemented:   {501, 12}, // UNIMPLEMENTED
	ErrExternalService:  {502, 14}, // UNAVAILABLE
	ErrConsistency:      {500, 15}, // DATA_LOSS
	ErrSignatureInvalid: {400, 3},  // INVALID_ARGUMENT
}

// GetCodeMapping returns the HTTP status and gRPC code for an error code.
// Unknown codes map to 500 / INTERNAL.
func GetCodeMapping(code string) (int, int) {
	if pair, ok := codeMapping[code]; ok {
		return pair.HTTPStatus, pair.GRPCCode
	}
	return 500, 13
}
