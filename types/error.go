package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the data layer.
type ErrorCode string

// Lifecycle and configuration error codes
const (
	ErrConfiguration      ErrorCode = "CONFIGURATION"
	ErrNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrAlreadyInitialized ErrorCode = "ALREADY_INITIALIZED"
)

// Connection error codes
const (
	ErrPoolTimeout    ErrorCode = "POOL_TIMEOUT"
	ErrRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrConnection     ErrorCode = "CONNECTION"
)

// Operation error codes
const (
	ErrValidation   ErrorCode = "VALIDATION"
	ErrConstraint   ErrorCode = "CONSTRAINT"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrQueryTimeout ErrorCode = "QUERY_TIMEOUT"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrSessionDone  ErrorCode = "SESSION_DONE"
	ErrSessionBusy  ErrorCode = "SESSION_BUSY"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Field     string    `json:"field,omitempty"`
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

// Is reports whether target is an *Error carrying the same code, so a bare
// NewError(code, "") works as a sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithField records the offending field for validation errors.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether any *Error in err's chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}
