// Package apierr defines the error taxonomy surfaced by the API engine and
// its mapping onto HTTP status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an engine error.
type Kind int

const (
	// Validation covers bad filter operators, invalid include paths and
	// malformed request bodies.
	Validation Kind = iota
	// NotFound covers missing resources, relationships and related targets.
	NotFound
	// Conflict covers type/id mismatches between URL and body.
	Conflict
	// Constraint covers backing-store integrity violations on writes.
	Constraint
	// Forbidden covers access-control denials.
	Forbidden
)

// Error is a typed engine error. Detail is safe to return to clients.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.cause)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Constraint:
		return http.StatusFailedDependency
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Title returns the standard status text for the error's kind.
func (e *Error) Title() string { return http.StatusText(e.Status()) }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Validationf returns a Validation error with a formatted detail message.
func Validationf(format string, args ...any) *Error { return newf(Validation, format, args...) }

// NotFoundf returns a NotFound error with a formatted detail message.
func NotFoundf(format string, args ...any) *Error { return newf(NotFound, format, args...) }

// Conflictf returns a Conflict error with a formatted detail message.
func Conflictf(format string, args ...any) *Error { return newf(Conflict, format, args...) }

// Constraintf returns a Constraint error with a formatted detail message.
func Constraintf(format string, args ...any) *Error { return newf(Constraint, format, args...) }

// Forbiddenf returns a Forbidden error with a formatted detail message.
func Forbiddenf(format string, args ...any) *Error { return newf(Forbidden, format, args...) }

// Wrap attaches a cause to an Error, preserving its kind and detail.
func Wrap(e *Error, cause error) *Error {
	return &Error{Kind: e.Kind, Detail: e.Detail, cause: cause}
}

// As extracts an *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
