package dto

import "net/http"

// Error code constants shared with domain errors. Handlers translate
// domain error codes straight into the response envelope, so the two sets
// must stay aligned.

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeValidation is used when request validation fails
	ErrCodeValidation = "ERR_VALIDATION"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes. Domain error
// codes arrive verbatim from the application layer.
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:    http.StatusInternalServerError,
	ErrCodeInternal:   http.StatusInternalServerError,
	ErrCodeBadRequest: http.StatusBadRequest,
	ErrCodeValidation: http.StatusBadRequest,

	"NOT_FOUND":        http.StatusNotFound,
	"SERIAL_UNKNOWN":   http.StatusNotFound,
	"UNKNOWN_CATEGORY": http.StatusBadRequest,
	"INVALID_INPUT":    http.StatusBadRequest,
	"INVALID_OPERATOR": http.StatusBadRequest,
	"EMPTY_SERIAL":     http.StatusBadRequest,
	"DUPLICATE_SERIAL": http.StatusConflict,
	"ALREADY_HELD":     http.StatusConflict,
	"BUSY":             http.StatusTooManyRequests,
	"OFFLINE":          http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status for an error code, defaulting to
// 500 for codes without a mapping.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
