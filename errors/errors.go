// Package errors provides error handling for paperdash.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Safe detail/hint separation for user-facing messages
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrUnknownJob) {
//	    // handle missing job
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
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
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors for the task engine.
// Use these with errors.Is() for type-safe error checking and wrap them
// with errors.Wrap() to add context while preserving the class.
var (
	// ErrInvalidConfig indicates a submission was rejected before any
	// execution; no task result is ever created for it.
	ErrInvalidConfig = New("invalid task configuration")

	// ErrPoolSaturated indicates the worker pool queue is full and the
	// immediate submission was rejected synchronously.
	ErrPoolSaturated = New("worker pool saturated")

	// ErrDuplicateJob indicates a scheduled job name is already registered.
	ErrDuplicateJob = New("job already registered")

	// ErrUnknownJob indicates the named scheduled job does not exist.
	ErrUnknownJob = New("job not registered")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = New("not found")

	// ErrTimeout indicates an operation exceeded its hard deadline.
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidConfigError creates an invalid-config error with a formatted message.
func NewInvalidConfigError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidConfig, Newf(format, args...).Error())
}
