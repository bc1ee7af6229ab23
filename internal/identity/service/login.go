package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	auditdomain "practice-portal/auth/internal/audit/domain"
	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/ids"
	"practice-portal/auth/internal/policy/engine"
	"practice-portal/auth/internal/security"
	"practice-portal/auth/internal/server/interceptors"
	sessiondomain "practice-portal/auth/internal/session/domain"
	sessionrepo "practice-portal/auth/internal/session/repository"
	userdomain "practice-portal/auth/internal/user/domain"
	vdomain "practice-portal/auth/internal/verification/domain"
)

// LoginRequest is the input to Login. DeviceID and TrustedDeviceToken are
// optional; together they let a remembered device skip the second factor.
type LoginRequest struct {
	OrgID              string `json:"org_id"`
	Email              string `json:"email"`
	Password           string `json:"password"`
	DeviceID           string `json:"device_id"`
	TrustedDeviceToken string `json:"trusted_device_token"`
}

// LoginResult is either a completed login (Tokens set) or a pending second
// factor (TwoFactorRequired with a challenge token for CompleteLogin).
type LoginResult struct {
	UserID             string     `json:"user_id"`
	TwoFactorRequired  bool       `json:"two_factor_required"`
	ChallengeToken     string     `json:"challenge_token,omitempty"`
	ChallengeExpiresAt *time.Time `json:"challenge_expires_at,omitempty"`
	Tokens             *TokenPair `json:"tokens,omitempty"`
}

// CompleteLoginRequest answers a two-factor challenge. Code is a TOTP code or
// an unused recovery code.
type CompleteLoginRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
	RememberDevice bool   `json:"remember_device"`
}

// Login checks the password and either opens a session or, when the login
// policy requires a second factor, returns a two-factor challenge. Every
// credential failure returns the same InvalidCredentials response.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) autherr.Response[*LoginResult] {
	ctx, span := s.metrics.Start(ctx, "auth.Login")
	defer span.End()
	res, err := s.login(ctx, req)
	switch {
	case err != nil:
		s.metrics.Login(ctx, outcome(err))
	case res.TwoFactorRequired:
		s.metrics.Login(ctx, "two_factor_required")
	default:
		s.metrics.Login(ctx, "success")
	}
	s.internal("auth.Login", err)
	return autherr.Result(res, err)
}

func (s *AuthService) login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	const op = "auth.Login"
	orgID := strings.TrimSpace(req.OrgID)
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, autherr.New(autherr.InvalidCredentials, op)
	}
	u, err := s.users.GetByEmail(ctx, orgID, email)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	now := s.now()
	if u == nil {
		s.hasher.CompareDummy(req.Password)
		s.loginFailed(ctx, orgID, "", "unknown_email")
		return nil, autherr.New(autherr.InvalidCredentials, op)
	}
	if u.IsLockedOut(now) {
		s.hasher.CompareDummy(req.Password)
		s.loginFailed(ctx, orgID, u.ID, "locked_out")
		return nil, autherr.New(autherr.InvalidCredentials, op)
	}
	if !s.hasher.Compare(u.PasswordHash, req.Password) {
		locked, err := s.recordFailure(ctx, op, u)
		if err != nil {
			return nil, err
		}
		reason := "bad_password"
		if locked {
			reason = "locked"
		}
		s.loginFailed(ctx, orgID, u.ID, reason)
		return nil, autherr.New(autherr.InvalidCredentials, op)
	}
	if !u.Active {
		if !u.IsEmailVerified() && s.opts.RequireEmailVerification {
			s.loginFailed(ctx, orgID, u.ID, "email_unverified")
			return nil, &autherr.Error{Kind: autherr.InvalidState, Op: op, Public: "email address not verified"}
		}
		s.loginFailed(ctx, orgID, u.ID, "inactive")
		return nil, autherr.New(autherr.InvalidCredentials, op)
	}

	deviceID := strings.TrimSpace(req.DeviceID)
	trusted := false
	if deviceID != "" && req.TrustedDeviceToken != "" {
		t, err := s.tokens.FindUsableToken(ctx, req.TrustedDeviceToken, vdomain.TypeTrustedDevice, u.ID, deviceID)
		if err != nil {
			return nil, autherr.Wrap(autherr.Internal, op, err)
		}
		trusted = t != nil
	}
	decision, err := s.evaluate(ctx, u, deviceID, trusted)
	if err != nil {
		return nil, err
	}

	if decision.TwoFactorRequired && u.TwoFactorEnabled {
		raw, t, err := s.tokens.IssueOneTimeToken(ctx, u.ID, vdomain.TypeTwoFactor, deviceID)
		if err != nil {
			return nil, err
		}
		s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionTwoFactorChallenge, auditdomain.ResourceUser, "")
		exp := t.ExpiresAt
		return &LoginResult{UserID: u.ID, TwoFactorRequired: true, ChallengeToken: raw, ChallengeExpiresAt: &exp}, nil
	}

	// The failure counter survives a challenge; only a completed login clears it.
	var pair *TokenPair
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if pair, err = s.openSession(ctx, u, deviceID); err != nil {
			return err
		}
		if err := s.users.ResetLoginFailures(ctx, u.ID, now); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionLoginSuccess, auditdomain.ResourceSession,
		meta("session_id", pair.SessionID, "trusted_device", strconv.FormatBool(trusted)))
	return &LoginResult{UserID: u.ID, Tokens: pair}, nil
}

// CompleteLogin answers the two-factor challenge issued by Login. Each call
// counts one attempt against the challenge whether or not the code is right,
// and a wrong code also counts toward the account lockout, so fresh
// challenges from repeated logins do not reset the guess budget.
// On success the challenge is consumed and a session is opened; with
// RememberDevice, and when policy allows it, a trusted-device token bound to
// the login's device id is returned too.
func (s *AuthService) CompleteLogin(ctx context.Context, req CompleteLoginRequest) autherr.Response[*LoginResult] {
	ctx, span := s.metrics.Start(ctx, "auth.CompleteLogin")
	defer span.End()
	res, err := s.completeLogin(ctx, req)
	s.metrics.Verification(ctx, string(vdomain.TypeTwoFactor), outcome(err))
	s.internal("auth.CompleteLogin", err)
	return autherr.Result(res, err)
}

func (s *AuthService) completeLogin(ctx context.Context, req CompleteLoginRequest) (*LoginResult, error) {
	const op = "auth.CompleteLogin"
	if req.ChallengeToken == "" {
		return nil, autherr.New(autherr.InvalidState, op)
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, autherr.Invalid(op, "code is required")
	}
	challenge, err := s.tokens.VerifyOneTimeToken(ctx, req.ChallengeToken, vdomain.TypeTwoFactor)
	if err != nil {
		if autherr.Is(err, autherr.NotFound) {
			// No pending challenge for this token.
			return nil, autherr.Wrap(autherr.InvalidState, op, err)
		}
		return nil, err
	}
	u, err := s.loadUser(ctx, op, challenge.UserID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !u.CanAuthenticate(now) || !u.TwoFactorEnabled {
		return nil, autherr.New(autherr.InvalidState, op)
	}
	totpOK := s.totp.Validate(code, u.TwoFactorSecret, now)

	deviceID := challenge.Subject
	remember := false
	if req.RememberDevice && deviceID != "" {
		d, err := s.evaluate(ctx, u, deviceID, false)
		if err != nil {
			return nil, err
		}
		remember = d.RememberDeviceAllowed
	}

	var pair *TokenPair
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if !totpOK {
			ok, err := s.users.ConsumeRecoveryCode(ctx, u.ID, recoveryCodeHash(code), now)
			if err != nil {
				return autherr.Wrap(autherr.Internal, op, err)
			}
			if !ok {
				return autherr.New(autherr.InvalidCredentials, op)
			}
		}
		if err := s.tokens.ConsumeOneTimeToken(ctx, challenge); err != nil {
			return err
		}
		var err error
		pair, err = s.openSession(ctx, u, deviceID)
		if err != nil {
			return err
		}
		if err := s.users.ResetLoginFailures(ctx, u.ID, now); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		if remember {
			pair.TrustedDeviceToken, err = s.tokens.GenerateTrustedDeviceToken(ctx, u.ID, deviceID)
		}
		return err
	})
	if err != nil {
		if autherr.Is(err, autherr.InvalidCredentials) {
			locked, rerr := s.recordFailure(ctx, op, u)
			if rerr != nil {
				return nil, rerr
			}
			s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionTwoFactorFailure, auditdomain.ResourceUser,
				meta("attempt", strconv.Itoa(challenge.Attempts), "locked", strconv.FormatBool(locked)))
		}
		return nil, err
	}
	method := "totp"
	if !totpOK {
		method = "recovery_code"
	}
	s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionLoginSuccess, auditdomain.ResourceSession,
		meta("session_id", pair.SessionID, "second_factor", method))
	return &LoginResult{UserID: u.ID, Tokens: pair}, nil
}

// RefreshToken rotates a refresh token: the old one stops working and a new
// access and refresh pair is returned. A token that was already rotated, or
// whose session ended, fails with InvalidState; an expired session fails with
// Expired. The access token previously minted for the session is revoked.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) autherr.Response[*TokenPair] {
	ctx, span := s.metrics.Start(ctx, "auth.RefreshToken")
	defer span.End()
	res, err := s.refresh(ctx, refreshToken)
	s.metrics.Refresh(ctx, outcome(err))
	s.internal("auth.RefreshToken", err)
	return autherr.Result(res, err)
}

func (s *AuthService) refresh(ctx context.Context, raw string) (*TokenPair, error) {
	const op = "auth.RefreshToken"
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, security.PrefixRefresh) {
		return nil, autherr.New(autherr.InvalidState, op)
	}
	oldHash := security.HashToken(raw)
	sess, err := s.sessions.Get(ctx, sessionrepo.Lookup{RefreshTokenHash: oldHash})
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if sess == nil || !sess.Active {
		return nil, autherr.New(autherr.InvalidState, op)
	}
	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		return nil, autherr.New(autherr.Expired, op)
	}
	u, err := s.loadUser(ctx, op, sess.UserID)
	if err != nil {
		return nil, err
	}
	if !u.CanAuthenticate(now) {
		return nil, autherr.New(autherr.Unauthorized, op)
	}
	grants, err := s.resolver.Resolve(ctx, u.ID, sess.OrgID)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	access, err := s.tokens.GenerateAccessToken(u, sess.ID, grants.Roles, grants.Permissions)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	next, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.sessions.RotateRefreshToken(ctx, sessionrepo.Rotation{
			SessionID:       sess.ID,
			OldHash:         oldHash,
			NewHash:         security.HashToken(next),
			AccessJTI:       access.JTI,
			AccessExpiresAt: access.ExpiresAt,
			Now:             now,
		})
		if err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		if !ok {
			// Lost the race to a concurrent refresh or logout.
			return autherr.New(autherr.InvalidState, op)
		}
		return s.tokens.RevokeToken(ctx, sess.AccessJTI, sess.AccessExpiresAt)
	})
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access.Token,
		RefreshToken: next,
		SessionID:    sess.ID,
		UserID:       u.ID,
		OrgID:        sess.OrgID,
		ExpiresAt:    access.ExpiresAt,
	}, nil
}

// openSession creates a session for u and mints its first token pair.
func (s *AuthService) openSession(ctx context.Context, u *userdomain.User, deviceID string) (*TokenPair, error) {
	const op = "auth.openSession"
	grants, err := s.resolver.Resolve(ctx, u.ID, u.OrgID)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	sessionID := ids.NewID()
	access, err := s.tokens.GenerateAccessToken(u, sessionID, grants.Roles, grants.Permissions)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	refresh, err := s.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	sessionToken, err := s.tokens.GenerateSessionToken()
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	now := s.now()
	sess := &sessiondomain.Session{
		ID:               sessionID,
		UserID:           u.ID,
		OrgID:            u.OrgID,
		DeviceID:         deviceID,
		SessionTokenHash: security.HashToken(sessionToken),
		RefreshTokenHash: security.HashToken(refresh),
		AccessJTI:        access.JTI,
		AccessExpiresAt:  access.ExpiresAt,
		IPAddress:        interceptors.GetClientIP(ctx),
		UserAgent:        interceptors.GetUserAgent(ctx),
		Active:           true,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.tokens.RefreshTTL()),
		LastSeenAt:       &now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	return &TokenPair{
		AccessToken:  access.Token,
		RefreshToken: refresh,
		SessionToken: sessionToken,
		SessionID:    sessionID,
		UserID:       u.ID,
		OrgID:        u.OrgID,
		ExpiresAt:    access.ExpiresAt,
	}, nil
}

// evaluate runs the login policy. Without a policy engine every enrolled
// user is challenged and any device may be remembered.
func (s *AuthService) evaluate(ctx context.Context, u *userdomain.User, deviceID string, trusted bool) (engine.LoginDecision, error) {
	if s.policy == nil {
		return engine.LoginDecision{TwoFactorRequired: u.TwoFactorEnabled && !trusted, RememberDeviceAllowed: deviceID != ""}, nil
	}
	roles, err := s.resolver.GetActiveRoles(ctx, u.ID, u.OrgID)
	if err != nil {
		return engine.LoginDecision{}, autherr.Wrap(autherr.Internal, "auth.evaluate", err)
	}
	d, err := s.policy.EvaluateLogin(ctx, engine.LoginInput{
		UserID:           u.ID,
		OrgID:            u.OrgID,
		Roles:            roles,
		TwoFactorEnabled: u.TwoFactorEnabled,
		DeviceID:         deviceID,
		DeviceTrusted:    trusted,
	})
	if err != nil {
		// The evaluator already returned its fail-closed fallback.
		s.log.Warn().Err(err).Str("user_id", u.ID).Msg("login policy fallback in effect")
	}
	return d, nil
}

func (s *AuthService) loginFailed(ctx context.Context, orgID, userID, reason string) {
	s.log.Info().Str("org_id", orgID).Str("user_id", userID).Str("reason", reason).Msg("login failed")
	s.audit.LogEvent(ctx, orgID, userID, auditdomain.ActionLoginFailure, auditdomain.ResourceUser, meta("reason", reason))
}

func recoveryCodeHash(code string) string {
	return security.HashToken(security.NormalizeRecoveryCode(code))
}
