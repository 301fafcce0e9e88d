// Package apperr defines the error categories surfaced at the service
// boundary. Handlers and the MCP server map a Kind to a transport status; the
// wrapped cause is logged but never returned to callers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindUnauthorized Kind = "unauthorized"
	KindValidation   Kind = "validation_error"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Error carries a category, a message safe to show to callers, and an
// optional underlying cause.
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

func Unauthorized(msg string) *Error { return &Error{Kind: KindUnauthorized, Message: msg} }

func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

// Internal wraps err with a generic message. The cause stays available to
// errors.Is / errors.As and to logs.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the category of err. Errors that were never classified are
// treated as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err belongs to kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}
