// Package errors provides error handling for courseforge.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
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
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
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
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
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

// GetStack returns the reportable stack trace attached to an error, if any.
var GetStack = crdb.GetReportableStackTrace

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Common sentinel errors.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() or errors.Mark() to add context while preserving the type.
var (
	// ErrNotFound indicates the entity does not exist or is not owned by the caller.
	// The two cases are deliberately indistinguishable.
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a resource conflict (e.g., target already generating)
	ErrConflict = New("resource conflict")

	// ErrInsufficientCredits indicates the owner cannot afford the requested work
	ErrInsufficientCredits = New("insufficient credits")

	// ErrPreconditionFailed indicates a job-type precondition was not met
	ErrPreconditionFailed = New("precondition failed")

	// ErrProviderError indicates a model or research provider transport/provider failure
	ErrProviderError = New("provider error")

	// ErrMalformedResponse indicates provider output could not be parsed into the expected shape
	ErrMalformedResponse = New("malformed response")

	// ErrResearchFailure indicates the research provider failed
	ErrResearchFailure = New("research failure")

	// ErrInvalidTransition indicates a job state transition not allowed from its current status
	ErrInvalidTransition = New("invalid transition")

	// ErrServiceUnavailable indicates a required service is not configured
	ErrServiceUnavailable = New("service unavailable")
)

// InsufficientCreditsError carries the required and available amounts of a
// rejected admission. It matches ErrInsufficientCredits under errors.Is.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// Is reports whether target is ErrInsufficientCredits.
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewPreconditionError creates a precondition-failed error with a formatted message
func NewPreconditionError(format string, args ...interface{}) error {
	return Wrap(ErrPreconditionFailed, Newf(format, args...).Error())
}

// NewInvalidTransitionError reports a disallowed job state change.
func NewInvalidTransitionError(id, from, to string) error {
	return Wrapf(ErrInvalidTransition, "job %s: %s -> %s", id, from, to)
}

// MarkProvider tags err as a provider failure while keeping its message and chain.
func MarkProvider(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrProviderError)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// Kind is a stable, machine-readable classification of an error.
type Kind string

const (
	KindNone                Kind = ""
	KindNotFound            Kind = "not_found"
	KindInvalidRequest      Kind = "invalid_request"
	KindConflict            Kind = "conflict"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindPreconditionFailed  Kind = "precondition_failed"
	KindMalformedResponse   Kind = "malformed_response"
	KindProviderError       Kind = "provider_error"
	KindResearchFailure     Kind = "research_failure"
	KindInvalidTransition   Kind = "invalid_transition"
	KindUnavailable         Kind = "service_unavailable"
	KindInternal            Kind = "internal"
)

// KindOf classifies err against the sentinel taxonomy.
// MalformedResponse is checked before ProviderError since a malformed response
// is also reported as a provider failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case Is(err, ErrInsufficientCredits):
		return KindInsufficientCredits
	case Is(err, ErrNotFound):
		return KindNotFound
	case Is(err, ErrPreconditionFailed):
		return KindPreconditionFailed
	case Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case Is(err, ErrConflict):
		return KindConflict
	case Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case Is(err, ErrResearchFailure):
		return KindResearchFailure
	case Is(err, ErrProviderError):
		return KindProviderError
	case Is(err, ErrServiceUnavailable):
		return KindUnavailable
	default:
		return KindInternal
	}
}
