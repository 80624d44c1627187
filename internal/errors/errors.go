package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents a structured error code for the Praetor project.
// Codes follow the format E<CATEGORY>-<NUMBER>.
type ErrorCode string

const (
	// Validation errors (EVAL-xxx)
	ErrValidation   ErrorCode = "EVAL-001"
	ErrInvalidInput ErrorCode = "EVAL-002"
	ErrMissingParam ErrorCode = "EVAL-003"

	// Rate limit errors (ERAT-xxx)
	ErrRateLimit ErrorCode = "ERAT-001"
	ErrLockout   ErrorCode = "ERAT-002"

	// Storage errors (ESTO-xxx)
	ErrStorage      ErrorCode = "ESTO-001"
	ErrNotFound     ErrorCode = "ESTO-002"
	ErrDuplicate    ErrorCode = "ESTO-003"
	ErrDBConnection ErrorCode = "ESTO-004"

	// Auth errors (EAUTH-xxx)
	ErrAuth           ErrorCode = "EAUTH-001"
	ErrInvalidCreds   ErrorCode = "EAUTH-002"
	ErrSessionExpired ErrorCode = "EAUTH-003"
	ErrInvalidAPIKey  ErrorCode = "EAUTH-004"

	// Permission errors (ERBAC-xxx)
	ErrPermissionCheck  ErrorCode = "ERBAC-001"
	ErrPermissionDenied ErrorCode = "ERBAC-002"
	ErrSystemRule       ErrorCode = "ERBAC-003"
	ErrUnknownRole      ErrorCode = "ERBAC-004"

	// Alert lifecycle guard errors (ELIF-xxx)
	ErrInvalidTransition ErrorCode = "ELIF-001"
	ErrDeleteGuard       ErrorCode = "ELIF-002"
	ErrTerminalStatus    ErrorCode = "ELIF-003"

	// Detection errors (EDET-xxx)
	ErrDetection   ErrorCode = "EDET-001"
	ErrAuditQuery  ErrorCode = "EDET-002"
	ErrDispatch    ErrorCode = "EDET-003"
)

// PraetorError is the base error type with structured error codes.
// It carries a machine-readable ErrorCode, a human-readable Message,
// an optional wrapped Cause, and arbitrary key-value Details for context.
type PraetorError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

// Error returns the string representation in "[CODE] message" format.
// If a Cause is present it is appended after a colon separator.
func (e *PraetorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying Cause so that errors.Is / errors.As
// can walk the error chain.
func (e *PraetorError) Unwrap() error {
	return e.Cause
}

// WithDetails adds a key-value pair of contextual information to the
// error and returns the same pointer for convenient chaining.
func (e *PraetorError) WithDetails(key string, value interface{}) *PraetorError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ---------------------------------------------------------------------------
// Constructor helpers
// ---------------------------------------------------------------------------

// New creates a new PraetorError with the given code and message.
func New(code ErrorCode, message string) *PraetorError {
	return &PraetorError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new PraetorError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *PraetorError {
	return &PraetorError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new PraetorError that wraps an existing error as its Cause.
func Wrap(code ErrorCode, message string, cause error) *PraetorError {
	return &PraetorError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Is reports whether any error in err's chain carries the given ErrorCode.
// It walks the chain using errors.Unwrap so it works with arbitrarily nested
// wrapped errors.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var pe *PraetorError
		if errors.As(err, &pe) {
			if pe.Code == code {
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}

// GetCode extracts the ErrorCode from the first PraetorError found in err's
// chain. If none is found it returns an empty ErrorCode.
func GetCode(err error) ErrorCode {
	var pe *PraetorError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ---------------------------------------------------------------------------
// HTTP status mapping
// ---------------------------------------------------------------------------

// ToHTTPStatus maps an ErrorCode to the most appropriate HTTP status code.
// Unknown codes default to 500 Internal Server Error.
func ToHTTPStatus(code ErrorCode) int {
	// First, check the exact code.
	if status, ok := codeToHTTPStatus[code]; ok {
		return status
	}

	// Fall back to the error category prefix so that new codes in a known
	// category still get a reasonable default.
	prefix := string(code)
	if idx := strings.Index(prefix, "-"); idx != -1 {
		prefix = prefix[:idx]
	}
	if status, ok := prefixToHTTPStatus[prefix]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// codeToHTTPStatus maps individual error codes to HTTP status codes.
var codeToHTTPStatus = map[ErrorCode]int{
	// Validation errors -> 400 Bad Request
	ErrValidation:   http.StatusBadRequest,
	ErrInvalidInput: http.StatusBadRequest,
	ErrMissingParam: http.StatusBadRequest,

	// Rate limit errors -> 429 Too Many Requests
	ErrRateLimit: http.StatusTooManyRequests,
	ErrLockout:   http.StatusTooManyRequests,

	// Storage errors
	ErrStorage:      http.StatusInternalServerError,
	ErrNotFound:     http.StatusNotFound,
	ErrDuplicate:    http.StatusConflict,
	ErrDBConnection: http.StatusServiceUnavailable,

	// Auth errors
	ErrAuth:           http.StatusUnauthorized,
	ErrInvalidCreds:   http.StatusUnauthorized,
	ErrSessionExpired: http.StatusUnauthorized,
	ErrInvalidAPIKey:  http.StatusForbidden,

	// Permission errors
	ErrPermissionCheck:  http.StatusInternalServerError,
	ErrPermissionDenied: http.StatusForbidden,
	ErrSystemRule:       http.StatusForbidden,
	ErrUnknownRole:      http.StatusBadRequest,

	// Lifecycle guard errors -> 409 Conflict: the alert exists but the
	// requested transition is not defined from its current status.
	ErrInvalidTransition: http.StatusConflict,
	ErrDeleteGuard:       http.StatusConflict,
	ErrTerminalStatus:    http.StatusConflict,

	// Detection errors
	ErrDetection:  http.StatusInternalServerError,
	ErrAuditQuery: http.StatusInternalServerError,
	ErrDispatch:   http.StatusInternalServerError,
}

// prefixToHTTPStatus provides category-level fallback mappings.
var prefixToHTTPStatus = map[string]int{
	"EVAL":  http.StatusBadRequest,
	"ERAT":  http.StatusTooManyRequests,
	"ESTO":  http.StatusInternalServerError,
	"EAUTH": http.StatusUnauthorized,
	"ERBAC": http.StatusForbidden,
	"ELIF":  http.StatusConflict,
	"EDET":  http.StatusInternalServerError,
}
