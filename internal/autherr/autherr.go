// Package autherr defines the closed set of failure kinds returned by the
// authentication core and the response envelope that carries them.
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed; callers switch on it.
type Kind int

const (
	Internal Kind = iota
	NotFound
	Expired
	AlreadyUsed
	AttemptsExceeded
	InvalidCredentials
	InvalidState
	Unauthorized
	Validation
	Conflict
	Malformed
	BadSignature
)

var kindCodes = map[Kind]string{
	Internal:           "internal",
	NotFound:           "not_found",
	Expired:            "expired",
	AlreadyUsed:        "already_used",
	AttemptsExceeded:   "attempts_exceeded",
	InvalidCredentials: "invalid_credentials",
	InvalidState:       "invalid_state",
	Unauthorized:       "unauthorized",
	Validation:         "validation_failed",
	Conflict:           "conflict",
	Malformed:          "malformed",
	BadSignature:       "bad_signature",
}

var kindMessages = map[Kind]string{
	Internal:           "an internal error occurred",
	NotFound:           "resource not found",
	Expired:            "token has expired",
	AlreadyUsed:        "token has already been used",
	AttemptsExceeded:   "too many attempts",
	InvalidCredentials: "invalid credentials",
	InvalidState:       "operation not allowed in the current state",
	Unauthorized:       "unauthorized",
	Validation:         "validation failed",
	Conflict:           "resource already exists",
	Malformed:          "malformed token",
	BadSignature:       "invalid token",
}

// Code returns the stable wire code for k.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[Internal]
}

// Message returns the generic public message for k.
func (k Kind) Message() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return kindMessages[Internal]
}

func (k Kind) String() string { return k.Code() }

// Error is a classified failure. Op names the operation that failed; Err is
// the underlying cause and is never shown to callers. Public, when set,
// replaces the generic message (used for validation details).
type Error struct {
	Kind   Kind
	Op     string
	Public string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.Code(), e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.Code())
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind.Code(), e.Err)
	default:
		return e.Kind.Code()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against another *Error by kind, so sentinel values such
// as ErrExpired can be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New returns an *Error of the given kind for op.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap classifies err as kind. A nil err yields a bare *Error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid returns a Validation error whose message is shown to the caller.
func Invalid(op, msg string) *Error {
	return &Error{Kind: Validation, Op: op, Public: msg}
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound           = &Error{Kind: NotFound}
	ErrExpired            = &Error{Kind: Expired}
	ErrAlreadyUsed        = &Error{Kind: AlreadyUsed}
	ErrAttemptsExceeded   = &Error{Kind: AttemptsExceeded}
	ErrInvalidCredentials = &Error{Kind: InvalidCredentials}
	ErrInvalidState       = &Error{Kind: InvalidState}
	ErrUnauthorized       = &Error{Kind: Unauthorized}
	ErrMalformed          = &Error{Kind: Malformed}
	ErrBadSignature       = &Error{Kind: BadSignature}
)

// KindOf returns the kind of the outermost *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
