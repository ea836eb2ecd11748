package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so every layer above can react without string matching.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindState         Kind = "state"
	KindProvider      Kind = "provider"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
)

// Error is the error type returned by the booking core.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a kinded error with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to cause. A nil cause yields nil.
func Wrap(kind Kind, cause error, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing text of err.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Message != "" {
			return de.Message
		}
	}
	return err.Error()
}

func Validation(format string, args ...any) error {
	return Errorf(KindValidation, format, args...)
}

func Unauthorized(format string, args ...any) error {
	return Errorf(KindAuthorization, format, args...)
}

func Conflict(format string, args ...any) error {
	return Errorf(KindConflict, format, args...)
}

func InvalidState(format string, args ...any) error {
	return Errorf(KindState, format, args...)
}

func NotFound(format string, args ...any) error {
	return Errorf(KindNotFound, format, args...)
}
