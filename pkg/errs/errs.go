// Package errs carries the error taxonomy shared by every domain package.
// Domain packages declare their sentinels with one of the constructors
// below; transports map them by Kind.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation   Kind = "validation_error"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindNotEntitled  Kind = "not_entitled"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal_error"
)

// Error is a coded domain error. Code is the stable machine value returned to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code
}

// Field returns the input field a validation code refers to, e.g. "invalid_name" -> "name".
func (e *Error) Field() string {
	if e == nil || e.Kind != KindValidation {
		return ""
	}
	if strings.HasPrefix(e.Code, "invalid_") {
		return strings.TrimPrefix(e.Code, "invalid_")
	}
	return ""
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Validation(code, message string) *Error   { return newError(KindValidation, code, message) }
func InvalidState(code, message string) *Error { return newError(KindInvalidState, code, message) }
func Conflict(code, message string) *Error     { return newError(KindConflict, code, message) }
func NotEntitled(code, message string) *Error  { return newError(KindNotEntitled, code, message) }
func NotFound(code, message string) *Error     { return newError(KindNotFound, code, message) }

// Wrap annotates a sentinel with detail while keeping errors.Is/As working.
func Wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// As returns the first coded error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// KindOf reports the taxonomy kind of err; uncoded errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
