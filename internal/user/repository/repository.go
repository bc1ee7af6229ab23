package repository

import (
	"context"
	"time"

	"practice-portal/auth/internal/user/domain"
)

// LockoutPolicy controls RecordLoginFailure.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// Repository defines persistence for users and their 2FA recovery codes.
// Lookups return (nil, nil) when the row does not exist. Create returns
// db.ErrConflict when the email is already registered in the organization.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, orgID, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// Update writes profile, activation and 2FA fields. Password and lockout
	// counters have dedicated methods.
	Update(ctx context.Context, u *domain.User) error
	SetPassword(ctx context.Context, userID, hash string, at time.Time) error
	// RecordLoginFailure atomically increments the failure counter. When the
	// counter reaches the threshold the user is locked until now+duration and
	// the counter restarts; locked reports that transition.
	RecordLoginFailure(ctx context.Context, userID string, p LockoutPolicy, now time.Time) (locked bool, err error)
	ResetLoginFailures(ctx context.Context, userID string, at time.Time) error

	// ReplaceRecoveryCodes deletes existing codes and stores the given hashes.
	ReplaceRecoveryCodes(ctx context.Context, userID string, hashes []string, at time.Time) error
	// ConsumeRecoveryCode marks an unused code as used; false when none matched.
	ConsumeRecoveryCode(ctx context.Context, userID, hash string, at time.Time) (bool, error)
	DeleteRecoveryCodes(ctx context.Context, userID string) error
}
