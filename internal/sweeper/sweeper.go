// Package sweeper periodically ends expired sessions and purges expired
// one-time tokens and revocation entries.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"practice-portal/auth/internal/db"
	sessiondomain "practice-portal/auth/internal/session/domain"
	sessionrepo "practice-portal/auth/internal/session/repository"
	"practice-portal/auth/internal/telemetry/otel"
	tokenservice "practice-portal/auth/internal/token/service"
)

// Result counts what one sweep removed.
type Result struct {
	SessionsExpired int
	TokensPurged    int
}

// Sweeper runs cleanup against the session store and token issuer.
type Sweeper struct {
	tokens   *tokenservice.Service
	sessions sessionrepo.Repository
	tx       db.Transactor
	metrics  *otel.AuthMetrics
	log      zerolog.Logger
	now      func() time.Time
}

// New returns a sweeper. tx must be the transactor sessions write through.
// metrics may be nil.
func New(tokens *tokenservice.Service, sessions sessionrepo.Repository, tx db.Transactor, metrics *otel.AuthMetrics, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		tokens:   tokens,
		sessions: sessions,
		tx:       tx,
		metrics:  metrics,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets the time source used to decide expiry.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// RunOnce deactivates every session past its expiry, revokes any of their
// access tokens that are still live, and purges expired tokens. Safe to run
// concurrently with itself; each session is ended by exactly one sweep.
// Deactivation and revocation commit together: when a revocation fails the
// sessions stay active and the next sweep retries them.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ended, err := s.sessions.DeactivateExpired(ctx, now)
		if err != nil {
			return err
		}
		for _, sess := range ended {
			if sess.AccessJTI == "" || !sess.AccessExpiresAt.After(now) {
				continue
			}
			if err := s.tokens.RevokeToken(ctx, sess.AccessJTI, sess.AccessExpiresAt); err != nil {
				return err
			}
		}
		res.SessionsExpired = len(ended)
		return nil
	})
	if err != nil {
		return res, err
	}
	s.metrics.SessionsRevoked(ctx, sessiondomain.ReasonExpired, res.SessionsExpired)

	res.TokensPurged, err = s.tokens.CleanupExpiredTokens(ctx)
	return res, err
}

// Run sweeps every interval until ctx is done. Failures are logged and the
// next tick retries.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := s.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if res.SessionsExpired > 0 || res.TokensPurged > 0 {
				s.log.Info().
					Int("sessions_expired", res.SessionsExpired).
					Int("tokens_purged", res.TokensPurged).
					Msg("sweep complete")
			}
		}
	}
}
