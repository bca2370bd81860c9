package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindValidation
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a business error with a stable machine-readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same reason so wrapped copies compare equal
// to the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason && t.Kind == e.Kind
}

var (
	ErrPollNotFound   = &Error{Kind: KindNotFound, Reason: "poll_not_found", Msg: "Poll not found"}
	ErrPollInactive   = &Error{Kind: KindNotFound, Reason: "poll_inactive", Msg: "Poll not found"}
	ErrOptionNotFound = &Error{Kind: KindNotFound, Reason: "option_not_found", Msg: "Poll option not found"}
	ErrUserNotFound   = &Error{Kind: KindNotFound, Reason: "user_not_found", Msg: "User not found"}
	ErrAlreadyLiked   = &Error{Kind: KindConflict, Reason: "already_liked", Msg: "Already liked this poll"}
	ErrNotLiked       = &Error{Kind: KindNotFound, Reason: "not_liked", Msg: "Like not found"}
	ErrUsernameTaken  = &Error{Kind: KindConflict, Reason: "username_taken", Msg: "User with this username already exists"}

	ErrInvalidCredentials = &Error{Kind: KindUnauthorized, Reason: "invalid_credentials", Msg: "Invalid credentials"}
	ErrInvalidToken       = &Error{Kind: KindUnauthorized, Reason: "invalid_token", Msg: "Invalid token"}
	ErrAuthRequired       = &Error{Kind: KindUnauthorized, Reason: "auth_required", Msg: "Authentication required"}
	ErrNotCreator         = &Error{Kind: KindForbidden, Reason: "not_creator", Msg: "Only the poll creator can change it"}

	ErrContention = &Error{Kind: KindUnavailable, Reason: "store_contention", Msg: "Store is busy, retry later"}
)

// Validation builds a KindValidation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: "validation_failed", Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. The message is never shown to clients.
func Internal(msg string, err error) error {
	return &Error{Kind: KindInternal, Reason: "internal", Msg: msg, Err: err}
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
