// Package errors provides error handling for qntx-migrate.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging (rendered into migration error details)
//   - Error wrapping and context
//   - Marking, so a specific error can still match a category with Is
//
// Usage:
//
//	// Wrap with context
//	if err := store.Get(ctx, id); err != nil {
//	    return errors.Wrap(err, "failed to load migration")
//	}
//
//	// Categorise
//	return errors.NewValidationError("model %s is not registered", model)
//
//	// Check categories
//	if errors.IsIllegalTransitionError(err) {
//	    // refuse the operation
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Mark           = crdb.Mark
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to an error, if any.
var GetStack = crdb.GetReportableStackTrace

// AssertionFailedf reports a programmer error (broken precondition).
var AssertionFailedf = crdb.AssertionFailedf

// Common sentinel errors.
// Use these with errors.Is() for type-safe error checking.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates the record changed underneath the caller
	ErrConflict = New("resource conflict")
)

// Migration error taxonomy.
var (
	// ErrValidation: the job configuration is invalid; the write is blocked.
	ErrValidation = New("validation error")

	// ErrInvocation: the target callable failed while running.
	// Never returned from a dispatch, only recorded on the job.
	ErrInvocation = New("invocation error")

	// ErrIllegalTransition: the requested status change is not allowed.
	ErrIllegalTransition = New("illegal status transition")

	// ErrScheduler: the external scheduler refused a registration change.
	ErrScheduler = New("scheduler error")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error is or wraps ErrConflict
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// IsValidationError checks if an error is or wraps ErrValidation
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsInvocationError checks if an error is or wraps ErrInvocation
func IsInvocationError(err error) bool {
	return err != nil && Is(err, ErrInvocation)
}

// IsIllegalTransitionError checks if an error is or wraps ErrIllegalTransition
func IsIllegalTransitionError(err error) bool {
	return err != nil && Is(err, ErrIllegalTransition)
}

// IsSchedulerError checks if an error is or wraps ErrScheduler
func IsSchedulerError(err error) bool {
	return err != nil && Is(err, ErrScheduler)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConflict)
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// NewIllegalTransitionError creates an illegal-transition error with a formatted message
func NewIllegalTransitionError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrIllegalTransition)
}

// WrapSchedulerError marks err as a scheduler failure with context
func WrapSchedulerError(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrScheduler)
}

// WrapInvocationError marks err as a failure of the migration callable
func WrapInvocationError(err error, context string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, context), ErrInvocation)
}

// Verbose renders err with its full cause chain and stack traces.
func Verbose(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%+v", err)
}
