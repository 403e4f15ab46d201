package shared

// DomainError is a caller-facing error with a stable machine code. Values
// below are singletons so errors.Is works on them directly; infrastructure
// wraps them with fmt.Errorf("%w") to add context.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a domain error with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

var (
	ErrNotFound      = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidState  = NewDomainError("INVALID_STATE", "Operation not allowed in current state")
	ErrTooManyJobs   = NewDomainError("TOO_MANY_JOBS", "Concurrent job limit reached for tenant")
)
