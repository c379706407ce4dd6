package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Validation error codes. These always fail synchronously, before any state
// mutation or dispatch.
const (
	ErrInvalidConfig   ErrorCode = "INVALID_CONFIG"
	ErrStrategyInvalid ErrorCode = "STRATEGY_INVALID"
	ErrAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	ErrEmptyMessage    ErrorCode = "EMPTY_MESSAGE"
	ErrMessageTooLong  ErrorCode = "MESSAGE_TOO_LONG"
	ErrTurnCapExceeded ErrorCode = "TURN_CAP_EXCEEDED"
	ErrTotalCapReached ErrorCode = "TOTAL_CAP_REACHED"
)

// Runtime error codes.
const (
	ErrSwarmAborted    ErrorCode = "SWARM_ABORTED"
	ErrSwarmBusy       ErrorCode = "SWARM_BUSY"
	ErrDispatchTimeout ErrorCode = "DISPATCH_TIMEOUT"
	ErrDispatchPending ErrorCode = "DISPATCH_PENDING"
	ErrWorkerError     ErrorCode = "WORKER_ERROR"
	ErrNilResult       ErrorCode = "NIL_RESULT"
	ErrGateRejected    ErrorCode = "GATE_REJECTED"
	ErrStoreClosed     ErrorCode = "STORE_CLOSED"
	ErrStoreUnavail    ErrorCode = "STORE_UNAVAILABLE"
	ErrNoConsensus     ErrorCode = "NO_CONSENSUS"
)

// Error represents a structured error with code, message, and cause.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	AgentName string    `json:"agent_name,omitempty"`
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

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithAgent attributes the error to an agent.
func (e *Error) WithAgent(name string) *Error {
	e.AgentName = name
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
// Returns "" for non-structured errors.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code. Callers use this to
// tell a DISPATCH_TIMEOUT ("no answer") from a WORKER_ERROR ("answer was an
// error").
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
