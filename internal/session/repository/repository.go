package repository

import (
	"context"
	"time"

	"practice-portal/auth/internal/session/domain"
)

// Lookup selects one session. Exactly one field should be set.
type Lookup struct {
	ID               string
	SessionTokenHash string
	RefreshTokenHash string
}

// Filter selects sessions for List. Zero fields do not filter.
type Filter struct {
	UserID        string
	OrgID         string
	ActiveOnly    bool
	ExpiredBefore *time.Time
	Limit         int
	Offset        int
}

// Rotation replaces a session's refresh token if OldHash still matches and
// the session is active and unexpired at Now.
type Rotation struct {
	SessionID       string
	OldHash         string
	NewHash         string
	AccessJTI       string
	AccessExpiresAt time.Time
	Now             time.Time
}

// Repository defines persistence for sessions. Get returns (nil, nil) when no
// session matches. All deactivating methods only touch active rows and return
// the rows they changed, so concurrent callers never both deactivate the same
// session.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, l Lookup) (*domain.Session, error)
	List(ctx context.Context, f Filter) ([]*domain.Session, error)
	// Deactivate ends one session; nil when it was already inactive or missing.
	Deactivate(ctx context.Context, id, reason string, at time.Time) (*domain.Session, error)
	// DeactivateAll ends every active session of userID except exceptID.
	DeactivateAll(ctx context.Context, userID, exceptID, reason string, at time.Time) ([]*domain.Session, error)
	// DeactivateExpired ends active sessions whose ExpiresAt is not after now.
	DeactivateExpired(ctx context.Context, now time.Time) ([]*domain.Session, error)
	// RotateRefreshToken swaps the refresh token hash; false when the
	// compare-and-swap did not apply.
	RotateRefreshToken(ctx context.Context, r Rotation) (bool, error)
}
