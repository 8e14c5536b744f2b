package friends

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the friend request core.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
	KindInvalidOperation Kind = "invalid_operation"
	KindConflict         Kind = "conflict"
	KindRateLimited      Kind = "rate_limited"
	KindInvalidArgument  Kind = "invalid_argument"
	KindInternal         Kind = "internal"
)

// Error is the only error type returned across the core boundary. It never
// wraps persistence errors, so callers cannot depend on storage details.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error with the same Kind, so errors.Is(err, ErrNotFound) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden        = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrInvalidOperation = &Error{Kind: KindInvalidOperation, Message: "invalid operation"}
	ErrConflict         = &Error{Kind: KindConflict, Message: "conflict"}
	ErrRateLimited      = &Error{Kind: KindRateLimited, Message: "rate limited"}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
	ErrInternal         = &Error{Kind: KindInternal, Message: "internal error"}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err, or KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
