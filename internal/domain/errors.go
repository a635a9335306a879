// Package domain defines core types, interfaces, and errors for the guardrail engine.
package domain

import "fmt"

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates insufficient permissions.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource or an
// already-terminal command).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// LedgerWriteError indicates the audit ledger could not be written.
// This is fatal to the dispatch: a verdict must never be reported to the
// caller unless it was durably recorded first.
type LedgerWriteError struct {
	Err error
}

func (e *LedgerWriteError) Error() string { return fmt.Sprintf("ledger write failed: %v", e.Err) }

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// ExecutorError indicates the external action failed after PERMIT.
// The cooldown clock is not advanced; the caller may resubmit as a new command.
type ExecutorError struct {
	Detail string
}

func (e *ExecutorError) Error() string { return fmt.Sprintf("execution failed: %s", e.Detail) }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}
