// Package errors provides error handling for strata.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for operators
//
// Operational failures (a save that did not reach the store, a store that
// could not be opened, a query that could not be compiled) are returned as
// values wrapping one of the sentinels below. Programming errors such as
// touching an object from the wrong thread are not errors at all: the graph
// package panics with a *graph.Violation for those.
//
// Usage:
//
//	if err := st.Save(ctx, changes); err != nil {
//	    return errors.Wrap(errors.Mark(err, errors.ErrPersistence), "save master")
//	}
//
//	if errors.Is(err, errors.ErrPersistence) {
//	    // retry the transaction or give up
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
	Mark         = crdb.Mark
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
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// AssertionFailedf reports an internal invariant that did not hold.
var AssertionFailedf = crdb.AssertionFailedf

// Sentinel errors for the operational failure tier.
// Wrap these with errors.Wrap() or tag with errors.Mark() to add context while preserving the type.
var (
	// ErrPersistence indicates a save into the durable store failed.
	// The in-memory graph is left as it was before the attempt.
	ErrPersistence = New("persistence failure")

	// ErrStoreOpen indicates the durable store could not be opened or prepared
	ErrStoreOpen = New("store open failure")

	// ErrIncompatibleSchema indicates the store was written with a model of a different major version
	ErrIncompatibleSchema = New("incompatible schema version")

	// ErrMalformedQuery indicates a fetch request could not be compiled or evaluated
	ErrMalformedQuery = New("malformed query")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrShutdown indicates a scheduled transaction never ran because the coordinator stopped first
	ErrShutdown = New("coordinator shut down")
)

// IsPersistenceError reports whether err is or wraps ErrPersistence.
func IsPersistenceError(err error) bool {
	return err != nil && Is(err, ErrPersistence)
}

// IsMalformedQueryError reports whether err is or wraps ErrMalformedQuery.
func IsMalformedQueryError(err error) bool {
	return err != nil && Is(err, ErrMalformedQuery)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewMalformedQueryError creates a malformed-query error with a formatted message
func NewMalformedQueryError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrMalformedQuery)
}

// WrapPersistence tags err as a persistence failure and adds context.
func WrapPersistence(err error, context string) error {
	if err == nil {
		return nil
	}
	return Wrap(Mark(err, ErrPersistence), context)
}

// WrapStoreOpen tags err as a store-open failure and adds context.
func WrapStoreOpen(err error, context string) error {
	if err == nil {
		return nil
	}
	return Wrap(Mark(err, ErrStoreOpen), context)
}
