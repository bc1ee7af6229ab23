package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	auditdomain "practice-portal/auth/internal/audit/domain"
	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/security"
	sessiondomain "practice-portal/auth/internal/session/domain"
	sessionrepo "practice-portal/auth/internal/session/repository"
	tokenservice "practice-portal/auth/internal/token/service"
)

// SessionView is the public shape of a session.
type SessionView struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id,omitempty"`
	IPAddress  string     `json:"ip_address,omitempty"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Current    bool       `json:"current"`
}

// RevokeResult reports how many sessions an operation ended.
type RevokeResult struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

// Authorize validates an access token, checks that its session is still
// active and, when perm is not empty, that the user currently holds perm.
// Permissions are resolved live so role changes apply before the token expires.
func (s *AuthService) Authorize(ctx context.Context, accessToken, perm string) autherr.Response[*tokenservice.Principal] {
	res, err := s.authorize(ctx, accessToken, perm)
	s.internal("auth.Authorize", err)
	return autherr.Result(res, err)
}

func (s *AuthService) authorize(ctx context.Context, accessToken, perm string) (*tokenservice.Principal, error) {
	const op = "auth.Authorize"
	p, err := s.tokens.ValidateToken(ctx, strings.TrimSpace(accessToken))
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(ctx, sessionrepo.Lookup{ID: p.SessionID})
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if sess == nil || sess.UserID != p.UserID || !sess.IsUsable(s.now()) {
		return nil, autherr.New(autherr.Unauthorized, op)
	}
	grants, err := s.resolver.Resolve(ctx, p.UserID, p.OrgID)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if perm != "" && !grants.Has(perm) {
		return nil, &autherr.Error{Kind: autherr.Unauthorized, Op: op, Public: "permission denied"}
	}
	if perm == "" {
		active, err := s.resolver.IsUserActive(ctx, p.UserID)
		if err != nil {
			return nil, autherr.Wrap(autherr.Internal, op, err)
		}
		if !active {
			return nil, autherr.New(autherr.Unauthorized, op)
		}
	}
	p.Roles = grants.Roles
	p.Permissions = grants.Permissions
	return p, nil
}

// Logout ends the caller's session and revokes its access token. Logging out
// a session that already ended succeeds.
func (s *AuthService) Logout(ctx context.Context, p *tokenservice.Principal) autherr.Response[Empty] {
	const op = "auth.Logout"
	ctx, span := s.metrics.Start(ctx, op)
	defer span.End()
	var ended *sessiondomain.Session
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ended, err = s.sessions.Deactivate(ctx, p.SessionID, sessiondomain.ReasonLogout, s.now())
		if err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		if err := s.tokens.RevokeToken(ctx, p.JTI, p.ExpiresAt); err != nil {
			return err
		}
		if ended != nil && ended.AccessJTI != p.JTI {
			return s.tokens.RevokeToken(ctx, ended.AccessJTI, ended.AccessExpiresAt)
		}
		return nil
	})
	if err != nil {
		s.internal(op, err)
		return autherr.Fail[Empty](err)
	}
	if ended != nil {
		s.metrics.SessionsRevoked(ctx, sessiondomain.ReasonLogout, 1)
		s.audit.LogEvent(ctx, p.OrgID, p.UserID, auditdomain.ActionLogout, auditdomain.ResourceSession, meta("session_id", p.SessionID))
	}
	return autherr.OK(Empty{})
}

// RevokeToken ends the session that owns refreshToken. The session must
// belong to userID.
func (s *AuthService) RevokeToken(ctx context.Context, userID, refreshToken string) autherr.Response[Empty] {
	const op = "auth.RevokeToken"
	ctx, span := s.metrics.Start(ctx, op)
	defer span.End()
	err := s.revokeRefresh(ctx, op, userID, strings.TrimSpace(refreshToken))
	s.internal(op, err)
	return autherr.Result(Empty{}, err)
}

func (s *AuthService) revokeRefresh(ctx context.Context, op, userID, raw string) error {
	if !strings.HasPrefix(raw, security.PrefixRefresh) {
		return autherr.New(autherr.NotFound, op)
	}
	sess, err := s.sessions.Get(ctx, sessionrepo.Lookup{RefreshTokenHash: security.HashToken(raw)})
	if err != nil {
		return autherr.Wrap(autherr.Internal, op, err)
	}
	if sess == nil || sess.UserID != userID {
		return autherr.New(autherr.NotFound, op)
	}
	return s.endSession(ctx, op, sess.ID, sess.OrgID, userID, sessiondomain.ReasonTerminated)
}

// RevokeAllTokens ends every active session of userID and revokes their
// access tokens.
func (s *AuthService) RevokeAllTokens(ctx context.Context, userID string) autherr.Response[*RevokeResult] {
	const op = "auth.RevokeAllTokens"
	ctx, span := s.metrics.Start(ctx, op)
	defer span.End()
	u, err := s.loadUser(ctx, op, userID)
	if err != nil {
		s.internal(op, err)
		return autherr.Fail[*RevokeResult](err)
	}
	var n int
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.revokeSessions(ctx, op, userID, "", sessiondomain.ReasonRevokeAll)
		return err
	})
	if err != nil {
		s.internal(op, err)
		return autherr.Fail[*RevokeResult](err)
	}
	s.metrics.SessionsRevoked(ctx, sessiondomain.ReasonRevokeAll, n)
	s.audit.LogEvent(ctx, u.OrgID, userID, auditdomain.ActionRevokeAll, auditdomain.ResourceSession, meta("count", strconv.Itoa(n)))
	return autherr.OK(&RevokeResult{SessionsRevoked: n})
}

// ListSessions returns the caller's active sessions, newest first.
func (s *AuthService) ListSessions(ctx context.Context, p *tokenservice.Principal) autherr.Response[[]SessionView] {
	const op = "auth.ListSessions"
	list, err := s.sessions.List(ctx, sessionrepo.Filter{UserID: p.UserID, ActiveOnly: true})
	if err != nil {
		err = autherr.Wrap(autherr.Internal, op, err)
		s.internal(op, err)
		return autherr.Fail[[]SessionView](err)
	}
	now := s.now()
	out := make([]SessionView, 0, len(list))
	for _, sess := range list {
		if !sess.IsUsable(now) {
			continue
		}
		out = append(out, SessionView{
			ID:         sess.ID,
			DeviceID:   sess.DeviceID,
			IPAddress:  sess.IPAddress,
			UserAgent:  sess.UserAgent,
			CreatedAt:  sess.CreatedAt,
			ExpiresAt:  sess.ExpiresAt,
			LastSeenAt: sess.LastSeenAt,
			Current:    sess.ID == p.SessionID,
		})
	}
	return autherr.OK(out)
}

// TerminateSession ends one of the caller's sessions. Fails with NotFound for
// sessions the caller does not own and InvalidState for sessions that have
// already ended.
func (s *AuthService) TerminateSession(ctx context.Context, p *tokenservice.Principal, sessionID string) autherr.Response[Empty] {
	const op = "auth.TerminateSession"
	ctx, span := s.metrics.Start(ctx, op)
	defer span.End()
	sess, err := s.sessions.Get(ctx, sessionrepo.Lookup{ID: sessionID})
	if err != nil {
		s.internal(op, err)
		return autherr.Fail[Empty](autherr.Wrap(autherr.Internal, op, err))
	}
	if sess == nil || sess.UserID != p.UserID {
		return autherr.Fail[Empty](autherr.New(autherr.NotFound, op))
	}
	err = s.endSession(ctx, op, sess.ID, sess.OrgID, p.UserID, sessiondomain.ReasonTerminated)
	s.internal(op, err)
	return autherr.Result(Empty{}, err)
}

// endSession deactivates one session and revokes its latest access token.
func (s *AuthService) endSession(ctx context.Context, op, sessionID, orgID, userID, reason string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ended, err := s.sessions.Deactivate(ctx, sessionID, reason, s.now())
		if err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		if ended == nil {
			return &autherr.Error{Kind: autherr.InvalidState, Op: op, Public: "session already ended"}
		}
		return s.tokens.RevokeToken(ctx, ended.AccessJTI, ended.AccessExpiresAt)
	})
	if err != nil {
		return err
	}
	s.metrics.SessionsRevoked(ctx, reason, 1)
	s.audit.LogEvent(ctx, orgID, userID, auditdomain.ActionSessionTerminated, auditdomain.ResourceSession, meta("session_id", sessionID))
	return nil
}

// GetCurrentUser returns the caller's profile with current roles and
// permissions.
func (s *AuthService) GetCurrentUser(ctx context.Context, p *tokenservice.Principal) autherr.Response[*UserView] {
	const op = "auth.GetCurrentUser"
	u, err := s.loadUser(ctx, op, p.UserID)
	if err != nil {
		s.internal(op, err)
		return autherr.Fail[*UserView](err)
	}
	grants, err := s.resolver.Resolve(ctx, u.ID, p.OrgID)
	if err != nil {
		return autherr.Fail[*UserView](autherr.Wrap(autherr.Internal, op, err))
	}
	v := viewOf(u)
	v.Roles = grants.Roles
	v.Permissions = grants.Permissions
	return autherr.OK(v)
}

// AssignRole grants roleName to userID in orgID on behalf of actor. Callers
// check the actor's permission first.
func (s *AuthService) AssignRole(ctx context.Context, actor *tokenservice.Principal, userID, roleName, orgID string) autherr.Response[Empty] {
	const op = "auth.AssignRole"
	u, err := s.loadUser(ctx, op, userID)
	if err != nil {
		return autherr.Fail[Empty](err)
	}
	if u.OrgID != orgID {
		return autherr.Fail[Empty](autherr.New(autherr.NotFound, op))
	}
	if err := s.resolver.AssignRole(ctx, userID, roleName, orgID); err != nil {
		s.internal(op, err)
		return autherr.Fail[Empty](err)
	}
	s.audit.LogEvent(ctx, orgID, actor.UserID, auditdomain.ActionRoleAssigned, auditdomain.ResourceRole,
		meta("user_id", userID, "role", roleName))
	return autherr.OK(Empty{})
}

// RevokeRole removes roleName from userID in orgID on behalf of actor.
func (s *AuthService) RevokeRole(ctx context.Context, actor *tokenservice.Principal, userID, roleName, orgID string) autherr.Response[Empty] {
	const op = "auth.RevokeRole"
	if err := s.resolver.RevokeRole(ctx, userID, roleName, orgID); err != nil {
		s.internal(op, err)
		return autherr.Fail[Empty](err)
	}
	s.audit.LogEvent(ctx, orgID, actor.UserID, auditdomain.ActionRoleRevoked, auditdomain.ResourceRole,
		meta("user_id", userID, "role", roleName))
	return autherr.OK(Empty{})
}
