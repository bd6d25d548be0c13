// Package apperr defines the error taxonomy shared by every service
// process: Unauthorized, BadRequest, Validation, Conflict, NotFound,
// Transient, PolicyHold (§7). HTTP handlers map a Kind to a status
// code in one place; nothing else in the codebase hardcodes one.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the visible error kinds of §7.
type Kind string

const (
	Unauthorized Kind = "unauthorized"
	BadRequest   Kind = "bad_request"
	Validation   Kind = "validation"
	Conflict     Kind = "conflict"
	NotFound     Kind = "not_found"
	Transient    Kind = "transient"
	PolicyHold   Kind = "policy_hold"
)

// Error carries a Kind, a caller-safe Detail, and an optional wrapped
// cause. PolicyHold is not a failure — it marks the observable
// "diverted to audit" outcome, but is still typed so the ingest
// pipeline can return a single (value, error) pair uniformly.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// defaulting to Transient for anything else — an unclassified failure
// is treated as retry-safe-but-unexpected, never silently swallowed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}
