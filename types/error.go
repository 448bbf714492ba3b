package types

import "fmt"

// ErrorCode represents a unified error code across the backend.
type ErrorCode string

// Configuration and registry error codes. Config errors are fatal at
// load time and never raised during a live turn.
const (
	ErrConfig        ErrorCode = "CONFIG_ERROR"
	ErrAgentNotFound ErrorCode = "AGENT_NOT_FOUND"
	ErrHandoffDenied ErrorCode = "HANDOFF_DENIED"
)

// Tool error codes. All are recoverable at the turn level.
const (
	ErrToolNotFound  ErrorCode = "TOOL_NOT_FOUND"
	ErrToolTimeout   ErrorCode = "TOOL_TIMEOUT"
	ErrToolExecution ErrorCode = "TOOL_EXECUTION"
	ErrToolConflict  ErrorCode = "TOOL_CONFLICT"
)

// Turn and LLM error codes.
const (
	ErrLLMTransient           ErrorCode = "LLM_TRANSIENT"
	ErrTurnIterationsExceeded ErrorCode = "TURN_ITERATIONS_EXCEEDED"
	ErrSessionClosed          ErrorCode = "SESSION_CLOSED"
)

// Lifecycle error codes.
const (
	ErrCriticalStartup ErrorCode = "CRITICAL_STARTUP"
	ErrDeferredStartup ErrorCode = "DEFERRED_STARTUP"
)

// Transport error codes.
const (
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
)

// Error is a structured error with code, message, and optional cause.
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

// IsRetryable checks whether an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, or "" if the
// error is not a *Error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// HasErrorCode reports whether err carries the given code.
func HasErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
