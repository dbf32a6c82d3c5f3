package task

import (
	"errors"
	"fmt"
)

// Kind identifies the category of error the core API surfaces to callers
// (spec §7). Components never swallow these silently; they either satisfy
// them locally (e.g. a Runner retrying) or propagate them to the API
// boundary.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindNotFound           Kind = "not_found"
	KindDuplicateID        Kind = "duplicate_id"
	KindCycleIntroduced    Kind = "cycle_introduced"
	KindInvariantViolation Kind = "invariant_violation"
	KindRunnerError        Kind = "runner_error"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindResourceUnavailable Kind = "resource_unavailable"
	KindPersistenceError   Kind = "persistence_error"
	KindRunnerMissing      Kind = "runner_missing"
)

// Error wraps an underlying error with a classification Kind so that
// callers can branch on failure category with errors.As instead of
// string matching.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error, optionally wrapping a cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Errorf is a convenience constructor mirroring fmt.Errorf's formatting.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
