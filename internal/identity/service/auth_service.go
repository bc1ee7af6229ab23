// Package service implements the authentication orchestrator. It composes the
// user, session, token and role stores into the register, login, refresh,
// logout, password and two-factor flows. Every exported operation returns an
// autherr.Response envelope and never a raw error.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"practice-portal/auth/internal/audit"
	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/ids"
	"practice-portal/auth/internal/notify"
	"practice-portal/auth/internal/policy/engine"
	rbacservice "practice-portal/auth/internal/rbac/service"
	"practice-portal/auth/internal/security"
	sessionrepo "practice-portal/auth/internal/session/repository"
	"practice-portal/auth/internal/telemetry/otel"
	tokenservice "practice-portal/auth/internal/token/service"
	userdomain "practice-portal/auth/internal/user/domain"
	userrepo "practice-portal/auth/internal/user/repository"
)

// Options are the account policy settings of the orchestrator.
type Options struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	// RequireEmailVerification keeps new users inactive until they verify.
	RequireEmailVerification bool
	// DefaultRole is assigned in the user's organization at registration when
	// a role with that name exists. Empty assigns nothing.
	DefaultRole       string
	RecoveryCodeCount int
}

// Deps are the collaborators of AuthService. Audit, Notifier and Metrics may
// be nil.
type Deps struct {
	Users    userrepo.Repository
	Sessions sessionrepo.Repository
	Tokens   *tokenservice.Service
	Resolver *rbacservice.Resolver
	Policy   engine.Evaluator
	Hasher   *security.Hasher
	TOTP     *security.TOTP
	Tx       db.Transactor
	Notifier notify.Notifier
	Audit    audit.AuditLogger
	Metrics  *otel.AuthMetrics
	Log      zerolog.Logger
}

// AuthService is the authentication orchestrator.
type AuthService struct {
	users    userrepo.Repository
	sessions sessionrepo.Repository
	tokens   *tokenservice.Service
	resolver *rbacservice.Resolver
	policy   engine.Evaluator
	hasher   *security.Hasher
	totp     *security.TOTP
	tx       db.Transactor
	notifier notify.Notifier
	audit    audit.AuditLogger
	metrics  *otel.AuthMetrics
	log      zerolog.Logger
	opts     Options
	now      func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(d Deps, opts Options) *AuthService {
	if opts.LockoutThreshold <= 0 {
		opts.LockoutThreshold = 5
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = 15 * time.Minute
	}
	if opts.RecoveryCodeCount <= 0 {
		opts.RecoveryCodeCount = 10
	}
	a := d.Audit
	if a == nil {
		a = nopAudit{}
	}
	return &AuthService{
		users:    d.Users,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		resolver: d.Resolver,
		policy:   d.Policy,
		hasher:   d.Hasher,
		totp:     d.TOTP,
		tx:       d.Tx,
		notifier: d.Notifier,
		audit:    a,
		metrics:  d.Metrics,
		log:      d.Log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets the time source for the service, its token issuer and its
// resolver.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	s.tokens.WithClock(now)
	s.resolver.WithClock(now)
	return s
}

type nopAudit struct{}

func (nopAudit) LogEvent(context.Context, string, string, string, string, string) {}

// UserView is the public shape of a user. It never carries secrets.
type UserView struct {
	ID               string     `json:"id"`
	OrgID            string     `json:"org_id,omitempty"`
	Email            string     `json:"email"`
	Name             string     `json:"name,omitempty"`
	Active           bool       `json:"active"`
	EmailVerified    bool       `json:"email_verified"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	PasswordChanged  *time.Time `json:"password_changed_at,omitempty"`
	Roles            []string   `json:"roles,omitempty"`
	Permissions      []string   `json:"permissions,omitempty"`
}

func viewOf(u *userdomain.User) *UserView {
	return &UserView{
		ID:               u.ID,
		OrgID:            u.OrgID,
		Email:            u.Email,
		Name:             u.Name,
		Active:           u.Active,
		EmailVerified:    u.IsEmailVerified(),
		TwoFactorEnabled: u.TwoFactorEnabled,
		CreatedAt:        u.CreatedAt,
		PasswordChanged:  u.PasswordChangedAt,
	}
}

// TokenPair is the credential set returned by a completed login or refresh.
// SessionToken is only returned when the session is created.
type TokenPair struct {
	AccessToken        string    `json:"access_token"`
	RefreshToken       string    `json:"refresh_token"`
	SessionToken       string    `json:"session_token,omitempty"`
	SessionID          string    `json:"session_id"`
	UserID             string    `json:"user_id"`
	OrgID              string    `json:"org_id,omitempty"`
	ExpiresAt          time.Time `json:"expires_at"`
	TrustedDeviceToken string    `json:"trusted_device_token,omitempty"`
}

// Empty is the payload of operations that return nothing.
type Empty struct{}

func (s *AuthService) lockoutPolicy() userrepo.LockoutPolicy {
	return userrepo.LockoutPolicy{Threshold: s.opts.LockoutThreshold, Duration: s.opts.LockoutDuration}
}

// recordFailure counts a failed credential check (password, TOTP or
// recovery code) against the user's lockout counter. locked reports that
// this failure locked the account.
func (s *AuthService) recordFailure(ctx context.Context, op string, u *userdomain.User) (locked bool, err error) {
	locked, err = s.users.RecordLoginFailure(ctx, u.ID, s.lockoutPolicy(), s.now())
	if err != nil {
		return false, autherr.Wrap(autherr.Internal, op, err)
	}
	if locked {
		s.log.Warn().Str("user_id", u.ID).Str("op", op).Msg("account locked after repeated failures")
	}
	return locked, nil
}

// confirmPassword re-checks the password of an already authenticated user.
// A locked account is refused without comparing, and a mismatch counts
// toward the lockout like a failed login.
func (s *AuthService) confirmPassword(ctx context.Context, op string, u *userdomain.User, password string) error {
	if u.IsLockedOut(s.now()) {
		s.hasher.CompareDummy(password)
		return autherr.New(autherr.InvalidCredentials, op)
	}
	if s.hasher.Compare(u.PasswordHash, password) {
		return nil
	}
	if _, err := s.recordFailure(ctx, op, u); err != nil {
		return err
	}
	return autherr.New(autherr.InvalidCredentials, op)
}

// loadUser returns the user or NotFound.
func (s *AuthService) loadUser(ctx context.Context, op, userID string) (*userdomain.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if u == nil {
		return nil, autherr.New(autherr.NotFound, op)
	}
	return u, nil
}

// revokeSessions ends the user's active sessions except exceptID and adds
// their latest access tokens to the revocation set. It must run inside a
// transaction so a revocation failure undoes the deactivation.
func (s *AuthService) revokeSessions(ctx context.Context, op, userID, exceptID, reason string) (int, error) {
	ended, err := s.sessions.DeactivateAll(ctx, userID, exceptID, reason, s.now())
	if err != nil {
		return 0, autherr.Wrap(autherr.Internal, op, err)
	}
	for _, sess := range ended {
		if err := s.tokens.RevokeToken(ctx, sess.AccessJTI, sess.AccessExpiresAt); err != nil {
			return 0, err
		}
	}
	return len(ended), nil
}

func (s *AuthService) send(kind notify.Kind, u *userdomain.User, token string, expiresAt time.Time) {
	if s.notifier == nil {
		return
	}
	notify.SendAsync(s.notifier, notify.Message{
		ID:        ids.NewULID(),
		Kind:      kind,
		UserID:    u.ID,
		Recipient: u.Email,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}, s.log)
}

// meta encodes key/value pairs as a JSON object for audit metadata.
func meta(kv ...string) string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	b, _ := json.Marshal(m)
	return string(b)
}

// internal logs unexpected failures once, at the operation boundary.
func (s *AuthService) internal(op string, err error) {
	if err != nil && autherr.KindOf(err) == autherr.Internal {
		s.log.Error().Err(err).Str("op", op).Msg("auth operation failed")
	}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	const simpleEmail = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	ok, _ := regexp.MatchString(simpleEmail, email)
	if !ok {
		return errors.New("invalid email format")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 12 {
		return errors.New("password must be at least 12 characters")
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		case r < '0' || (r > '9' && r < 'A') || (r > 'Z' && r < 'a') || r > 'z':
			hasSymbol = true
		}
	}
	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSymbol {
		return errors.New("password must contain at least one symbol")
	}
	return nil
}
