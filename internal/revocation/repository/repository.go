// Package repository holds the access-token revocation set: a denylist of
// token ids (jti) kept until the token would have expired anyway.
package repository

import (
	"context"
	"time"
)

// Store records revoked access-token ids.
type Store interface {
	// Revoke adds jti to the set. Revoking an already revoked jti keeps the
	// later of the two expiries.
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// PurgeExpired drops entries whose token expired at or before now and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
