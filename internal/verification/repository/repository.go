package repository

import (
	"context"
	"time"

	"practice-portal/auth/internal/verification/domain"
)

// Query selects tokens. Find uses ID or TokenHash (optionally narrowed by
// Type); List uses UserID, optionally narrowed by Type and by UsableAt, which
// keeps only tokens that pass CanUse at that instant.
type Query struct {
	ID        string
	TokenHash string
	UserID    string
	Type      domain.TokenType
	UsableAt  *time.Time
}

// Repository defines persistence for one-time verification tokens. Find
// returns (nil, nil) when no token matches.
type Repository interface {
	Create(ctx context.Context, t *domain.Token) error
	Find(ctx context.Context, q Query) (*domain.Token, error)
	List(ctx context.Context, q Query) ([]*domain.Token, error)
	// MarkUsed sets UsedAt once. A second call is a no-op and returns false.
	MarkUsed(ctx context.Context, id string, at time.Time) (bool, error)
	// InvalidateAll supersedes every unused, not yet invalidated token of
	// tokenType owned by userID and returns how many changed.
	InvalidateAll(ctx context.Context, userID string, tokenType domain.TokenType, at time.Time) (int64, error)
	// IncrementAttempts adds one attempt and returns the new count in a
	// single atomic step. Returns 0 when the token does not exist.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// DeleteExpired removes tokens whose expiry is at or before before.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	// DeleteUsedBefore removes used or superseded tokens older than before.
	DeleteUsedBefore(ctx context.Context, before time.Time) (int64, error)
}
