// Package apperr defines the failure taxonomy shared by the workflow core.
// Every failure surfaced to a caller is classified with a Kind so handlers
// can map it to an HTTP status without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind int

const (
	// Internal is the zero value for unclassified failures.
	Internal Kind = iota
	// NotFound — no record for the given subject.
	NotFound
	// InvalidTransition — the workflow is not in an allowed predecessor state.
	InvalidTransition
	// Conflict — duplicate creation or concurrent modification lost the race.
	Conflict
	// PreconditionFailed — a business rule is unmet (insurance, unpaid billing).
	PreconditionFailed
	// UnauthorizedMutation — a guarded write arrived without a write-guard token.
	UnauthorizedMutation
	// ImmutableRecord — an update/delete was attempted on an append-only row.
	ImmutableRecord
	// AlreadyFinalized — the payment workflow has already completed.
	AlreadyFinalized
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case InvalidTransition:
		return "invalid_transition"
	case Conflict:
		return "conflict"
	case PreconditionFailed:
		return "precondition_failed"
	case UnauthorizedMutation:
		return "unauthorized_mutation"
	case ImmutableRecord:
		return "immutable_record"
	case AlreadyFinalized:
		return "already_finalized"
	default:
		return "internal"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a failure kind to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound:
		return http.StatusNotFound
	case InvalidTransition:
		return http.StatusUnprocessableEntity
	case Conflict, AlreadyFinalized:
		return http.StatusConflict
	case PreconditionFailed, UnauthorizedMutation, ImmutableRecord:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
