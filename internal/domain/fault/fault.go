// Package fault defines the error taxonomy shared by the order domain and its
// collaborators. Every failure that a caller is expected to act on carries a
// Kind; everything else is an internal error.
package fault

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a domain failure.
type Kind uint8

const (
	// KindInternal is the zero Kind, used for errors outside the taxonomy.
	KindInternal Kind = iota
	// KindNotFound means a referenced entity does not exist.
	KindNotFound
	// KindInvalidInput means the request violates a business rule.
	KindInvalidInput
	// KindUnauthorized means the actor may not perform the operation.
	KindUnauthorized
	// KindInvalidState means the entity is not in a state that allows the operation.
	KindInvalidState
	// KindExternal means an external service (payment gateway) failed.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidState:
		return "invalid_state"
	case KindExternal:
		return "external_service_failure"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is matching by kind.
var (
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrExternal     = &Error{Kind: KindExternal}
)

// Error is a classified domain failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

func newf(kind Kind, format string, args []any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) error { return newf(KindNotFound, format, args) }

// InvalidInput returns a KindInvalidInput error.
func InvalidInput(format string, args ...any) error { return newf(KindInvalidInput, format, args) }

// Unauthorized returns a KindUnauthorized error.
func Unauthorized(format string, args ...any) error { return newf(KindUnauthorized, format, args) }

// InvalidState returns a KindInvalidState error.
func InvalidState(format string, args ...any) error { return newf(KindInvalidState, format, args) }

// External wraps err from an external service.
func External(err error, message string) error {
	return &Error{Kind: KindExternal, Message: message, Err: err}
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}
