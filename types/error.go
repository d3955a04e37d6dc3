package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Pool error codes
const (
	ErrPoolClosed         ErrorCode = "POOL_CLOSED"
	ErrBrowserUnavailable ErrorCode = "BROWSER_INSTANCE_UNAVAILABLE"
)

// Browser and execution error codes
const (
	ErrDriver             ErrorCode = "DRIVER_ERROR"
	ErrElementNotFound    ErrorCode = "ELEMENT_NOT_FOUND"
	ErrElementInteraction ErrorCode = "ELEMENT_INTERACTION"
	ErrNavigation         ErrorCode = "NAVIGATION_ERROR"
	ErrTaskTimeout        ErrorCode = "TASK_TIMEOUT"
	ErrCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
	ErrAIService          ErrorCode = "AI_SERVICE_ERROR"
	ErrValidation         ErrorCode = "VALIDATION_ERROR"
	ErrBudgetExhausted    ErrorCode = "BUDGET_EXHAUSTED"
	ErrConfiguration      ErrorCode = "CONFIGURATION_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// transientCodes are the failure kinds the retry policy may replay. Validation,
// configuration, pool lifecycle, and breaker decisions are never transient.
var transientCodes = map[ErrorCode]bool{
	ErrDriver:             true,
	ErrElementInteraction: true,
	ErrNavigation:         true,
	ErrAIService:          true,
}

// NewError creates a new Error with the given code and message. The retryable
// flag is derived from the code's default transience and can be overridden
// with WithRetryable.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: transientCodes[code]}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error, or "" for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// SessionCompromised reports whether a failure kind indicates the browser
// session backing the task can no longer be trusted. Timeouts usually mean
// the driver is wedged, so the session is released unhealthy.
func SessionCompromised(code ErrorCode) bool {
	switch code {
	case ErrTaskTimeout, ErrDriver:
		return true
	default:
		return false
	}
}
