package domain

import (
	"errors"
	"time"
)

// User is the identity record for one account within an organization.
// OrgID "" denotes an account without a tenant.
type User struct {
	ID               string
	OrgID            string
	Email            string
	Name             string
	PasswordHash     string
	Active           bool
	EmailVerifiedAt  *time.Time
	FailedLoginCount int
	LockedUntil      *time.Time
	TwoFactorEnabled bool
	// TwoFactorSecret holds the TOTP secret. It is set by 2FA setup and only
	// used for login once TwoFactorEnabled is true.
	TwoFactorSecret   string
	PasswordChangedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}

// IsLockedOut reports whether a lockout is in force at now.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// IsEmailVerified reports whether the user has confirmed their email address.
func (u *User) IsEmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// CanAuthenticate reports whether the account may log in or hold permissions at now.
func (u *User) CanAuthenticate(now time.Time) bool {
	return u.Active && !u.IsLockedOut(now)
}
