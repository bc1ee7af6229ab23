// Package service implements the token issuer: signed access tokens, opaque
// refresh and session tokens, type-tagged one-time tokens and the access-token
// revocation set.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/ids"
	revocation "practice-portal/auth/internal/revocation/repository"
	"practice-portal/auth/internal/security"
	sessionrepo "practice-portal/auth/internal/session/repository"
	userdomain "practice-portal/auth/internal/user/domain"
	vdomain "practice-portal/auth/internal/verification/domain"
	vrepo "practice-portal/auth/internal/verification/repository"
)

// OneTimePolicy is the lifetime and attempt ceiling of one token type.
type OneTimePolicy struct {
	TTL         time.Duration
	MaxAttempts int
}

// Config holds issuer settings that are not part of the signing codec.
type Config struct {
	RefreshTTL time.Duration
	OneTime    map[vdomain.TokenType]OneTimePolicy
	// UsedTokenRetention is how long used or superseded one-time tokens are
	// kept before cleanup deletes them.
	UsedTokenRetention time.Duration
}

var prefixes = map[vdomain.TokenType]string{
	vdomain.TypeEmailVerification: security.PrefixEmailVerification,
	vdomain.TypePasswordReset:     security.PrefixPasswordReset,
	vdomain.TypeTwoFactor:         security.PrefixTwoFactor,
	vdomain.TypeTrustedDevice:     security.PrefixTrustedDevice,
}

// Principal is the verified identity carried by an access token.
type Principal struct {
	UserID      string
	OrgID       string
	SessionID   string
	JTI         string
	Roles       []string
	Permissions []string
	ExpiresAt   time.Time
}

// HasPermission reports whether perm was granted when the token was minted.
func (p *Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

// Service issues and validates every token kind.
type Service struct {
	codec    *security.TokenCodec
	sessions sessionrepo.Repository
	tokens   vrepo.Repository
	revoked  revocation.Store
	tx       db.Transactor
	cfg      Config
	now      func() time.Time
}

// NewService returns a token issuer. cfg.OneTime must have a positive TTL and
// attempt ceiling for every token type.
func NewService(
	codec *security.TokenCodec,
	sessions sessionrepo.Repository,
	tokens vrepo.Repository,
	revoked revocation.Store,
	tx db.Transactor,
	cfg Config,
) (*Service, error) {
	for typ := range prefixes {
		p, ok := cfg.OneTime[typ]
		if !ok || p.TTL <= 0 || p.MaxAttempts <= 0 {
			return nil, fmt.Errorf("token policy for %s is not configured", typ)
		}
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("refresh ttl must be positive")
	}
	return &Service{
		codec:    codec,
		sessions: sessions,
		tokens:   tokens,
		revoked:  revoked,
		tx:       tx,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock sets the time source for the service and its codec.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.codec.WithClock(now)
	return s
}

// AccessTTL returns the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.codec.AccessTTL() }

// RefreshTTL returns the session and refresh-token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.cfg.RefreshTTL }

// Policy returns the lifetime and attempt ceiling configured for typ.
func (s *Service) Policy(typ vdomain.TokenType) OneTimePolicy { return s.cfg.OneTime[typ] }

// GenerateAccessToken signs an access token for u bound to sessionID.
func (s *Service) GenerateAccessToken(u *userdomain.User, sessionID string, roles, permissions []string) (security.IssuedToken, error) {
	return s.codec.Issue(security.AccessSubject{
		UserID:      u.ID,
		OrgID:       u.OrgID,
		SessionID:   sessionID,
		Roles:       roles,
		Permissions: permissions,
	})
}

// GenerateRefreshToken returns a new opaque refresh token. It shares nothing
// with any access token.
func (s *Service) GenerateRefreshToken() (string, error) {
	return security.NewOpaqueToken(security.PrefixRefresh)
}

// GenerateSessionToken returns a new opaque session token.
func (s *Service) GenerateSessionToken() (string, error) {
	return security.NewOpaqueToken(security.PrefixSession)
}

// ValidateToken verifies an access token and checks the revocation set.
func (s *Service) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	const op = "token.Validate"
	claims, err := s.codec.Parse(token)
	if err != nil {
		switch {
		case errors.Is(err, security.ErrTokenExpired):
			return nil, autherr.Wrap(autherr.Expired, op, err)
		case errors.Is(err, security.ErrTokenSignature):
			return nil, autherr.Wrap(autherr.BadSignature, op, err)
		default:
			return nil, autherr.Wrap(autherr.Malformed, op, err)
		}
	}
	revoked, err := s.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if revoked {
		return nil, autherr.Wrap(autherr.Unauthorized, op, errors.New("token revoked"))
	}
	p := &Principal{
		UserID:      claims.Subject,
		OrgID:       claims.OrgID,
		SessionID:   claims.SessionID,
		JTI:         claims.ID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// ValidateRefreshToken reports whether token belongs to an active, unexpired
// session owned by userID.
func (s *Service) ValidateRefreshToken(ctx context.Context, token, userID string) (bool, error) {
	if !strings.HasPrefix(token, security.PrefixRefresh) {
		return false, nil
	}
	sess, err := s.sessions.Get(ctx, sessionrepo.Lookup{RefreshTokenHash: security.HashToken(token)})
	if err != nil {
		return false, err
	}
	return sess != nil && sess.UserID == userID && sess.IsUsable(s.now()), nil
}

// IssueOneTimeToken creates a token of typ for userID and supersedes every
// earlier unused token of the same type. Subject binds the token to a device
// or other resource and may be empty. The raw token is returned once and only
// its hash is stored.
func (s *Service) IssueOneTimeToken(ctx context.Context, userID string, typ vdomain.TokenType, subject string) (string, *vdomain.Token, error) {
	const op = "token.IssueOneTime"
	prefix, ok := prefixes[typ]
	if !ok {
		return "", nil, autherr.Invalid(op, "unknown token type")
	}
	raw, err := security.NewOpaqueToken(prefix)
	if err != nil {
		return "", nil, autherr.Wrap(autherr.Internal, op, err)
	}
	policy := s.cfg.OneTime[typ]
	now := s.now()
	t := &vdomain.Token{
		ID:          ids.NewULID(),
		UserID:      userID,
		Type:        typ,
		TokenHash:   security.HashToken(raw),
		Subject:     subject,
		ExpiresAt:   now.Add(policy.TTL),
		MaxAttempts: policy.MaxAttempts,
		CreatedAt:   now,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.tokens.InvalidateAll(ctx, userID, typ, now); err != nil {
			return err
		}
		return s.tokens.Create(ctx, t)
	})
	if err != nil {
		return "", nil, autherr.Wrap(autherr.Internal, op, err)
	}
	return raw, t, nil
}

func (s *Service) GenerateEmailVerificationToken(ctx context.Context, userID string) (string, error) {
	raw, _, err := s.IssueOneTimeToken(ctx, userID, vdomain.TypeEmailVerification, "")
	return raw, err
}

func (s *Service) GeneratePasswordResetToken(ctx context.Context, userID string) (string, error) {
	raw, _, err := s.IssueOneTimeToken(ctx, userID, vdomain.TypePasswordReset, "")
	return raw, err
}

func (s *Service) GenerateTwoFactorToken(ctx context.Context, userID string) (string, error) {
	raw, _, err := s.IssueOneTimeToken(ctx, userID, vdomain.TypeTwoFactor, "")
	return raw, err
}

// GenerateTrustedDeviceToken issues a token that marks deviceID as trusted
// for userID until it expires.
func (s *Service) GenerateTrustedDeviceToken(ctx context.Context, userID, deviceID string) (string, error) {
	if deviceID == "" {
		return "", autherr.Invalid("token.GenerateTrustedDevice", "device id is required")
	}
	raw, _, err := s.IssueOneTimeToken(ctx, userID, vdomain.TypeTrustedDevice, deviceID)
	return raw, err
}

// InvalidateOneTimeTokens supersedes every unused token of typ owned by userID.
func (s *Service) InvalidateOneTimeTokens(ctx context.Context, userID string, typ vdomain.TokenType) error {
	if _, err := s.tokens.InvalidateAll(ctx, userID, typ, s.now()); err != nil {
		return autherr.Wrap(autherr.Internal, "token.InvalidateOneTime", err)
	}
	return nil
}

// VerifyOneTimeToken looks up raw as a token of typ, checks that it is still
// usable and records one attempt. The attempt is counted with a single
// increment-and-read so concurrent submissions cannot exceed the ceiling.
// The token is not consumed; callers finish with ConsumeOneTimeToken.
func (s *Service) VerifyOneTimeToken(ctx context.Context, raw string, typ vdomain.TokenType) (*vdomain.Token, error) {
	const op = "token.VerifyOneTime"
	if prefix, ok := prefixes[typ]; !ok || !strings.HasPrefix(raw, prefix) {
		return nil, autherr.New(autherr.NotFound, op)
	}
	t, err := s.tokens.Find(ctx, vrepo.Query{TokenHash: security.HashToken(raw), Type: typ})
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if t == nil {
		return nil, autherr.New(autherr.NotFound, op)
	}
	if err := checkErr(op, t.Check(s.now())); err != nil {
		return nil, err
	}
	n, err := s.tokens.IncrementAttempts(ctx, t.ID)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if n == 0 {
		return nil, autherr.New(autherr.NotFound, op)
	}
	t.Attempts = n
	if n > t.MaxAttempts {
		return nil, autherr.Wrap(autherr.AttemptsExceeded, op, vdomain.ErrAttemptsExceeded)
	}
	return t, nil
}

// ConsumeOneTimeToken marks t used. Fails with AlreadyUsed when another caller
// consumed it first.
func (s *Service) ConsumeOneTimeToken(ctx context.Context, t *vdomain.Token) error {
	const op = "token.Consume"
	changed, err := s.tokens.MarkUsed(ctx, t.ID, s.now())
	if err != nil {
		return autherr.Wrap(autherr.Internal, op, err)
	}
	if !changed {
		return autherr.Wrap(autherr.AlreadyUsed, op, vdomain.ErrUsed)
	}
	return nil
}

// FindUsableToken returns the newest usable token of typ owned by userID
// whose subject matches, without counting an attempt. Used for trusted-device
// checks, where the raw token is presented alongside the device id.
func (s *Service) FindUsableToken(ctx context.Context, raw string, typ vdomain.TokenType, userID, subject string) (*vdomain.Token, error) {
	if prefix, ok := prefixes[typ]; !ok || !strings.HasPrefix(raw, prefix) {
		return nil, nil
	}
	t, err := s.tokens.Find(ctx, vrepo.Query{TokenHash: security.HashToken(raw), Type: typ})
	if err != nil || t == nil {
		return nil, err
	}
	if t.UserID != userID || t.Subject != subject || !t.CanUse(s.now()) {
		return nil, nil
	}
	return t, nil
}

func checkErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vdomain.ErrUsed):
		return autherr.Wrap(autherr.AlreadyUsed, op, err)
	case errors.Is(err, vdomain.ErrAttemptsExceeded):
		return autherr.Wrap(autherr.AttemptsExceeded, op, err)
	default:
		// Expired and superseded tokens are both past their validity window.
		return autherr.Wrap(autherr.Expired, op, err)
	}
}

// RevokeToken adds jti to the revocation set until expiresAt.
func (s *Service) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	if err := s.revoked.Revoke(ctx, jti, expiresAt); err != nil {
		return autherr.Wrap(autherr.Internal, "token.Revoke", err)
	}
	return nil
}

// IsTokenRevoked reports whether jti is in the revocation set.
func (s *Service) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return s.revoked.IsRevoked(ctx, jti)
}

// CleanupExpiredTokens drops revocation entries for tokens that have expired,
// deletes expired one-time tokens and deletes used or superseded tokens older
// than the retention window. It returns the total removed and is safe to run
// repeatedly.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int, error) {
	const op = "token.Cleanup"
	now := s.now()
	purged, err := s.revoked.PurgeExpired(ctx, now)
	if err != nil {
		return 0, autherr.Wrap(autherr.Internal, op, err)
	}
	expired, err := s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return purged, autherr.Wrap(autherr.Internal, op, err)
	}
	used, err := s.tokens.DeleteUsedBefore(ctx, now.Add(-s.cfg.UsedTokenRetention))
	if err != nil {
		return purged + int(expired), autherr.Wrap(autherr.Internal, op, err)
	}
	return purged + int(expired) + int(used), nil
}
