package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/db"
	revocation "practice-portal/auth/internal/revocation/repository"
	"practice-portal/auth/internal/security"
	sessiondomain "practice-portal/auth/internal/session/domain"
	sessionrepo "practice-portal/auth/internal/session/repository"
	userdomain "practice-portal/auth/internal/user/domain"
	vdomain "practice-portal/auth/internal/verification/domain"
	vrepo "practice-portal/auth/internal/verification/repository"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	clock    *clock
	sessions *sessionrepo.MemoryRepository
	tokens   *vrepo.MemoryRepository
	revoked  *revocation.MemoryStore
}

func testConfig() Config {
	return Config{
		RefreshTTL: 7 * 24 * time.Hour,
		OneTime: map[vdomain.TokenType]OneTimePolicy{
			vdomain.TypeEmailVerification: {TTL: 24 * time.Hour, MaxAttempts: 5},
			vdomain.TypePasswordReset:     {TTL: time.Hour, MaxAttempts: 5},
			vdomain.TypeTwoFactor:         {TTL: 5 * time.Minute, MaxAttempts: 5},
			vdomain.TypeTrustedDevice:     {TTL: 30 * 24 * time.Hour, MaxAttempts: 1},
		},
		UsedTokenRetention: 24 * time.Hour,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &clock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
		sessions: sessionrepo.NewMemoryRepository(),
		tokens:   vrepo.NewMemoryRepository(),
		revoked:  revocation.NewMemoryStore(),
	}
	svc, err := NewService(security.NewTestTokenCodec(), f.sessions, f.tokens, f.revoked, db.NewMemoryTransactor(), testConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc.WithClock(f.clock.Now)
	return f
}

func TestNewService_RequiresEveryPolicy(t *testing.T) {
	cfg := testConfig()
	delete(cfg.OneTime, vdomain.TypeTrustedDevice)
	_, err := NewService(security.NewTestTokenCodec(), nil, nil, nil, db.NewMemoryTransactor(), cfg)
	if err == nil {
		t.Fatal("expected error for missing trusted-device policy")
	}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	f := newFixture(t)
	u := &userdomain.User{ID: "u1", OrgID: "org-1"}
	issued, err := f.svc.GenerateAccessToken(u, "s1", []string{"doctor"}, []string{"patients:read"})
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	p, err := f.svc.ValidateToken(context.Background(), issued.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if p.UserID != "u1" || p.OrgID != "org-1" || p.SessionID != "s1" || p.JTI != issued.JTI {
		t.Errorf("principal = %+v", p)
	}
	if !p.HasPermission("patients:read") || p.HasPermission("patients:write") {
		t.Errorf("permissions = %v", p.Permissions)
	}
}

func TestValidateToken_Kinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := &userdomain.User{ID: "u1"}
	issued, _ := f.svc.GenerateAccessToken(u, "s1", nil, nil)

	if _, err := f.svc.ValidateToken(ctx, "not-a-jwt"); !autherr.Is(err, autherr.Malformed) {
		t.Errorf("garbage: err = %v, want Malformed", err)
	}
	other, _ := security.NewTokenCodec([]byte(strings.Repeat("k", 40)), "test", "test-issuer", "test-audience", time.Minute)
	forged, _ := other.WithClock(f.clock.Now).Issue(security.AccessSubject{UserID: "u1", SessionID: "s1"})
	if _, err := f.svc.ValidateToken(ctx, forged.Token); !autherr.Is(err, autherr.BadSignature) {
		t.Errorf("foreign key: err = %v, want BadSignature", err)
	}

	if err := f.svc.RevokeToken(ctx, issued.JTI, issued.ExpiresAt); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := f.svc.ValidateToken(ctx, issued.Token); !autherr.Is(err, autherr.Unauthorized) {
		t.Errorf("revoked: err = %v, want Unauthorized", err)
	}

	fresh, _ := f.svc.GenerateAccessToken(u, "s1", nil, nil)
	f.clock.Advance(16 * time.Minute)
	if _, err := f.svc.ValidateToken(ctx, fresh.Token); !autherr.Is(err, autherr.Expired) {
		t.Errorf("expired: err = %v, want Expired", err)
	}
}

func TestRefreshToken_OpaqueAndUnique(t *testing.T) {
	f := newFixture(t)
	a, _ := f.svc.GenerateRefreshToken()
	b, _ := f.svc.GenerateRefreshToken()
	if a == b || !strings.HasPrefix(a, security.PrefixRefresh) {
		t.Fatalf("refresh tokens %q %q", a, b)
	}
	if strings.Count(a, ".") != 0 {
		t.Error("refresh token must not be a JWT")
	}
}

func TestValidateRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	rt, _ := f.svc.GenerateRefreshToken()
	_ = f.sessions.Create(ctx, &sessiondomain.Session{
		ID: "s1", UserID: "u1", SessionTokenHash: "st", RefreshTokenHash: security.HashToken(rt),
		Active: true, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})

	if ok, err := f.svc.ValidateRefreshToken(ctx, rt, "u1"); err != nil || !ok {
		t.Fatalf("owner: %v, %v", ok, err)
	}
	if ok, _ := f.svc.ValidateRefreshToken(ctx, rt, "u2"); ok {
		t.Error("other user must not validate")
	}
	_, _ = f.sessions.Deactivate(ctx, "s1", sessiondomain.ReasonLogout, now)
	if ok, _ := f.svc.ValidateRefreshToken(ctx, rt, "u1"); ok {
		t.Error("inactive session must not validate")
	}
}

func TestOneTimeToken_NewSupersedesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.GeneratePasswordResetToken(ctx, "u1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, _ := f.svc.GeneratePasswordResetToken(ctx, "u1")
	if !strings.HasPrefix(first, security.PrefixPasswordReset) || first == second {
		t.Fatalf("tokens %q %q", first, second)
	}
	if _, err := f.svc.VerifyOneTimeToken(ctx, first, vdomain.TypePasswordReset); !autherr.Is(err, autherr.Expired) {
		t.Errorf("superseded: err = %v, want Expired", err)
	}
	if _, err := f.svc.VerifyOneTimeToken(ctx, second, vdomain.TypePasswordReset); err != nil {
		t.Errorf("latest: %v", err)
	}
}

func TestOneTimeToken_TypeIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev, _ := f.svc.GenerateEmailVerificationToken(ctx, "u1")
	if _, err := f.svc.VerifyOneTimeToken(ctx, ev, vdomain.TypePasswordReset); !autherr.Is(err, autherr.NotFound) {
		t.Errorf("cross-type: err = %v, want NotFound", err)
	}
	if _, err := f.svc.VerifyOneTimeToken(ctx, "pr_unknown", vdomain.TypePasswordReset); !autherr.Is(err, autherr.NotFound) {
		t.Errorf("unknown: err = %v, want NotFound", err)
	}
}

func TestOneTimeToken_PasswordResetExpiresAfterOneHour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.svc.GeneratePasswordResetToken(ctx, "u1")
	f.clock.Advance(61 * time.Minute)
	if _, err := f.svc.VerifyOneTimeToken(ctx, raw, vdomain.TypePasswordReset); !autherr.Is(err, autherr.Expired) {
		t.Fatalf("err = %v, want Expired", err)
	}
}

func TestOneTimeToken_AttemptCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.svc.GenerateTwoFactorToken(ctx, "u1")
	for i := 1; i <= 5; i++ {
		tok, err := f.svc.VerifyOneTimeToken(ctx, raw, vdomain.TypeTwoFactor)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if tok.Attempts != i {
			t.Fatalf("attempt %d: Attempts = %d", i, tok.Attempts)
		}
	}
	if _, err := f.svc.VerifyOneTimeToken(ctx, raw, vdomain.TypeTwoFactor); !autherr.Is(err, autherr.AttemptsExceeded) {
		t.Fatalf("6th attempt: err = %v, want AttemptsExceeded", err)
	}
}

func TestOneTimeToken_ConcurrentAttemptsNeverExceedCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.svc.GenerateTwoFactorToken(ctx, "u1")

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.VerifyOneTimeToken(ctx, raw, vdomain.TypeTwoFactor); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 5 {
		t.Fatalf("%d attempts accepted, want exactly 5", ok)
	}
}

func TestConsumeOneTimeToken_SecondConsumeFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.svc.GenerateEmailVerificationToken(ctx, "u1")
	tok, err := f.svc.VerifyOneTimeToken(ctx, raw, vdomain.TypeEmailVerification)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := f.svc.ConsumeOneTimeToken(ctx, tok); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := f.svc.ConsumeOneTimeToken(ctx, tok); !autherr.Is(err, autherr.AlreadyUsed) {
		t.Errorf("second Consume: err = %v, want AlreadyUsed", err)
	}
	if _, err := f.svc.VerifyOneTimeToken(ctx, raw, vdomain.TypeEmailVerification); !autherr.Is(err, autherr.AlreadyUsed) {
		t.Errorf("verify after use: err = %v, want AlreadyUsed", err)
	}
}

func TestTrustedDeviceToken_BoundToDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.GenerateTrustedDeviceToken(ctx, "u1", ""); !autherr.Is(err, autherr.Validation) {
		t.Fatalf("empty device: err = %v", err)
	}
	raw, _ := f.svc.GenerateTrustedDeviceToken(ctx, "u1", "laptop-1")
	if tok, _ := f.svc.FindUsableToken(ctx, raw, vdomain.TypeTrustedDevice, "u1", "laptop-1"); tok == nil {
		t.Fatal("expected usable token for bound device")
	}
	if tok, _ := f.svc.FindUsableToken(ctx, raw, vdomain.TypeTrustedDevice, "u1", "phone-2"); tok != nil {
		t.Error("token must not match another device")
	}
	if tok, _ := f.svc.FindUsableToken(ctx, raw, vdomain.TypeTrustedDevice, "u2", "laptop-1"); tok != nil {
		t.Error("token must not match another user")
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()
	_ = f.svc.RevokeToken(ctx, "old-jti", now.Add(time.Minute))
	_ = f.svc.RevokeToken(ctx, "live-jti", now.Add(48*time.Hour))
	_, _ = f.svc.GenerateTwoFactorToken(ctx, "u1")
	raw, _ := f.svc.GenerateEmailVerificationToken(ctx, "u1")
	tok, _ := f.svc.VerifyOneTimeToken(ctx, raw, vdomain.TypeEmailVerification)
	_ = f.svc.ConsumeOneTimeToken(ctx, tok)

	f.clock.Advance(25 * time.Hour)
	n, err := f.svc.CleanupExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	// old-jti, the expired 2FA token, and the consumed email token (also past its 24h expiry).
	if n != 3 {
		t.Errorf("removed %d, want 3", n)
	}
	if revoked, _ := f.svc.IsTokenRevoked(ctx, "live-jti"); !revoked {
		t.Error("unexpired revocation must survive cleanup")
	}
	if n, _ := f.svc.CleanupExpiredTokens(ctx); n != 0 {
		t.Errorf("second cleanup removed %d, want 0", n)
	}
}
