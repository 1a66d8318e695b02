package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the module.
type ErrorCode string

// Fetch and configuration error codes
const (
	ErrFetch         ErrorCode = "FETCH_ERROR"
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// Request error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
)

// Schema resolution error codes
const (
	ErrUnsupportedReferenceShape ErrorCode = "UNSUPPORTED_REFERENCE_SHAPE"
	ErrUnknownSchema             ErrorCode = "UNKNOWN_SCHEMA"
	ErrReferenceCycle            ErrorCode = "REFERENCE_CYCLE"
)

// Conversation error codes
const (
	ErrMalformedReply ErrorCode = "MALFORMED_REPLY"
	ErrInvocation     ErrorCode = "INVOCATION_ERROR"
	ErrCancelled      ErrorCode = "CANCELLED"
	ErrLLM            ErrorCode = "LLM_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Body       string    `json:"body,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
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

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithBody records the response body returned alongside a failed status.
func (e *Error) WithBody(body string) *Error {
	e.Body = body
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from anywhere in err's chain.
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
// Context cancellation is reported as ErrCancelled even when unwrapped.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// FromContext wraps a context error as ErrCancelled, or returns nil.
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewError(ErrCancelled, "operation cancelled").WithCause(err)
	}
	return nil
}
