package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an mcpeval error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrInvalidState   ErrorCode = "INVALID_STATE"   // 409
	ErrRunCompleted   ErrorCode = "RUN_COMPLETED"   // 409
	ErrUnknownState   ErrorCode = "UNKNOWN_STATE"   // 500
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// EvalError represents a structured error with code, status, and details.
type EvalError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *EvalError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *EvalError {
	return &EvalError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewValidation creates a 400 error carrying field-level validation errors.
func NewValidation(msg string, fields map[string]string) *EvalError {
	return &EvalError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
		Details: map[string]any{"fields": fields},
	}
}

// NewNotFound creates a 404 error for a missing session or run.
func NewNotFound(kind, identifier string) *EvalError {
	return &EvalError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewInvalidState creates a 409 error for an action that is not legal
// in the session's current state.
func NewInvalidState(state, msg string) *EvalError {
	return &EvalError{
		Code:    ErrInvalidState,
		Status:  409,
		Message: msg,
		Details: map[string]any{"state": state},
	}
}

// NewRunCompleted creates a 409 error for an action on a finalized run.
func NewRunCompleted(runID string) *EvalError {
	return &EvalError{
		Code:    ErrRunCompleted,
		Status:  409,
		Message: fmt.Sprintf("run %s is already completed; call try_again to start a new run", runID),
		Details: map[string]any{"run_id": runID},
	}
}

// NewUnknownState creates a 500 error for a stored state tag that is not
// part of the state table. Sessions carrying one cannot be resumed.
func NewUnknownState(tag string) *EvalError {
	return &EvalError{
		Code:    ErrUnknownState,
		Status:  500,
		Message: fmt.Sprintf("unknown state loaded from storage: %q", tag),
		Details: map[string]any{"state": tag},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *EvalError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &EvalError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is (or wraps) an EvalError with the given code.
func Is(err error, code ErrorCode) bool {
	var eErr *EvalError
	if stderrors.As(err, &eErr) {
		return eErr.Code == code
	}
	return false
}

// As is a convenience wrapper around errors.As for EvalError.
func As(err error) (*EvalError, bool) {
	var eErr *EvalError
	if stderrors.As(err, &eErr) {
		return eErr, true
	}
	return nil, false
}
