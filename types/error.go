package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Workflow error codes
const (
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrExecution        ErrorCode = "EXECUTION_ERROR"
	ErrAgentBound       ErrorCode = "AGENT_BOUND"
	ErrPersistence      ErrorCode = "PERSISTENCE_ERROR"
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrInvalidWorkflow  ErrorCode = "INVALID_WORKFLOW"
	ErrSessionRequired  ErrorCode = "SESSION_REQUIRED"
	ErrProviderNotSet   ErrorCode = "PROVIDER_NOT_SET"
	ErrToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	ErrHistoryNotFound  ErrorCode = "HISTORY_NOT_FOUND"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrUpstreamError    ErrorCode = "UPSTREAM_ERROR"
	ErrContextCancelled ErrorCode = "CONTEXT_CANCELLED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Step      string    `json:"step,omitempty"`
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

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStep records the name of the step the error originated from.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether any *Error in the chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the outermost error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// --- 常用错误构造 ---

// NewNotFoundError reports an unknown session or step id.
func NewNotFoundError(kind, id string) *Error {
	return NewError(ErrNotFound, fmt.Sprintf("%s not found: %s", kind, id))
}

// NewExecutionError wraps a handler, tool or completion failure with the step name.
// The message keeps the cause's text as a suffix.
func NewExecutionError(step string, cause error) *Error {
	return &Error{
		Code:    ErrExecution,
		Message: fmt.Sprintf("step %q failed", step),
		Step:    step,
		Cause:   cause,
	}
}

// NewAgentBoundError reports an agent loop that used its whole step budget.
func NewAgentBoundError(step string, maxSteps int) *Error {
	return &Error{
		Code:    ErrAgentBound,
		Message: fmt.Sprintf("agent step %q exceeded max steps (%d)", step, maxSteps),
		Step:    step,
	}
}

// NewPersistenceError wraps an unexpected I/O failure.
func NewPersistenceError(op string, cause error) *Error {
	return NewError(ErrPersistence, op).WithCause(cause)
}
