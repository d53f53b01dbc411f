package equipment

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound        = NewDomainError("NOT_FOUND", "Resource not found")
	ErrUnknownCategory = NewDomainError("UNKNOWN_CATEGORY", "Unknown equipment category")
	ErrDuplicateSerial = NewDomainError("DUPLICATE_SERIAL", "Serial number already registered in this category")
	ErrOffline         = NewDomainError("OFFLINE", "Remote data service is unreachable")
	ErrInvalidOperator = NewDomainError("INVALID_OPERATOR", "Operator id is malformed")
	ErrAlreadyHeld     = NewDomainError("ALREADY_HELD", "Operator already holds a device of this category")
	ErrSerialUnknown   = NewDomainError("SERIAL_UNKNOWN", "Serial number not found")
	ErrInvalidInput    = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrBusy            = NewDomainError("BUSY", "Another scan operation is still in flight")
)
