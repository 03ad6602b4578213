// Package errs defines the error taxonomy shared by every layer of the
// workflow service. Each error carries a stable machine-readable Kind and a
// human-readable message; the transport layer maps kinds to status codes.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers
type Kind string

const (
	KindUnauthorized          Kind = "unauthorized"
	KindNotFound              Kind = "not_found"
	KindValidationFailed      Kind = "validation_failed"
	KindInvalidTransition     Kind = "invalid_transition"
	KindConflict              Kind = "conflict"
	KindTimeout               Kind = "timeout"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindInternal              Kind = "internal"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// Error is a classified error
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

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works
// on wrapped errors regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks
var (
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrValidationFailed      = &Error{Kind: KindValidationFailed}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrConflict              = &Error{Kind: KindConflict}
	ErrTimeout               = &Error{Kind: KindTimeout}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable}
	ErrInternal              = &Error{Kind: KindInternal}
)

// New creates a classified error
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies a cause. A nil cause yields nil.
func Wrap(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Unauthorized(format string, args ...interface{}) error {
	return New(KindUnauthorized, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return New(KindNotFound, format, args...)
}

func Validation(format string, args ...interface{}) error {
	return New(KindValidationFailed, format, args...)
}

func InvalidTransition(format string, args ...interface{}) error {
	return New(KindInvalidTransition, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return New(KindConflict, format, args...)
}

// KindOf classifies any error. Unclassified context deadlines become
// KindTimeout; everything else unclassified is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Message returns the human-readable part of a classified error, falling back
// to err.Error() for unclassified errors.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
