package domain

import (
	"errors"
	"time"
)

// TokenType tags a one-time token with the flow it belongs to.
type TokenType string

const (
	TypeEmailVerification TokenType = "email_verification"
	TypePasswordReset     TokenType = "password_reset"
	TypeTwoFactor         TokenType = "two_factor"
	TypeTrustedDevice     TokenType = "trusted_device"
)

// Valid reports whether t is one of the known token types.
func (t TokenType) Valid() bool {
	switch t {
	case TypeEmailVerification, TypePasswordReset, TypeTwoFactor, TypeTrustedDevice:
		return true
	}
	return false
}

// Token is a single-use security token. Only the hash of the token value is
// stored. Subject binds the token to something other than the user, such as
// the device id of a trusted-device token.
type Token struct {
	ID        string
	UserID    string
	Type      TokenType
	TokenHash string
	Subject   string
	ExpiresAt time.Time
	UsedAt    *time.Time
	// InvalidatedAt is set when a newer token of the same type supersedes this one.
	InvalidatedAt *time.Time
	Attempts      int
	MaxAttempts   int
	CreatedAt     time.Time
}

// Reasons a token cannot be used.
var (
	ErrUsed             = errors.New("token already used")
	ErrSuperseded       = errors.New("token superseded")
	ErrExpired          = errors.New("token expired")
	ErrAttemptsExceeded = errors.New("token attempts exceeded")
)

func (t *Token) IsUsed() bool { return t.UsedAt != nil }

func (t *Token) IsExpired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// HasExceededMaxAttempts reports whether no verification attempts remain.
func (t *Token) HasExceededMaxAttempts() bool { return t.Attempts >= t.MaxAttempts }

// CanUse reports whether the token is unused, not superseded, unexpired and
// below its attempt ceiling at now.
func (t *Token) CanUse(now time.Time) bool {
	return t.Check(now) == nil
}

// Check returns why the token cannot be used at now, or nil.
func (t *Token) Check(now time.Time) error {
	switch {
	case t.IsUsed():
		return ErrUsed
	case t.InvalidatedAt != nil:
		return ErrSuperseded
	case t.IsExpired(now):
		return ErrExpired
	case t.HasExceededMaxAttempts():
		return ErrAttemptsExceeded
	}
	return nil
}
