package service

import (
	"context"
	"strconv"
	"strings"

	auditdomain "practice-portal/auth/internal/audit/domain"
	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/notify"
	sessiondomain "practice-portal/auth/internal/session/domain"
	tokenservice "practice-portal/auth/internal/token/service"
	vdomain "practice-portal/auth/internal/verification/domain"
)

// ResetPasswordRequest is the input to ResetPassword.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ChangePasswordRequest is the input to ChangePassword.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ForgotPassword sends a password reset token when the address belongs to an
// active account. The response never reveals whether it does.
func (s *AuthService) ForgotPassword(ctx context.Context, orgID, email string) autherr.Response[Empty] {
	const op = "auth.ForgotPassword"
	ctx, span := s.metrics.Start(ctx, op)
	defer span.End()
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(orgID), normalizeEmail(email))
	if err != nil {
		err = autherr.Wrap(autherr.Internal, op, err)
		s.internal(op, err)
		return autherr.Fail[Empty](err)
	}
	if u == nil || !u.Active {
		return autherr.OK(Empty{})
	}
	raw, t, err := s.tokens.IssueOneTimeToken(ctx, u.ID, vdomain.TypePasswordReset, "")
	if err != nil {
		s.internal(op, err)
		return autherr.Fail[Empty](err)
	}
	s.send(notify.KindPasswordReset, u, raw, t.ExpiresAt)
	s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionPasswordResetReq, auditdomain.ResourceToken, "")
	return autherr.OK(Empty{})
}

// ResetPassword sets a new password using a reset token and ends every
// session of the user.
func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest) autherr.Response[*RevokeResult] {
	ctx, span := s.metrics.Start(ctx, "auth.ResetPassword")
	defer span.End()
	res, err := s.resetPassword(ctx, req)
	s.metrics.Verification(ctx, string(vdomain.TypePasswordReset), outcome(err))
	s.internal("auth.ResetPassword", err)
	return autherr.Result(res, err)
}

func (s *AuthService) resetPassword(ctx context.Context, req ResetPasswordRequest) (*RevokeResult, error) {
	const op = "auth.ResetPassword"
	if err := validatePassword(req.NewPassword); err != nil {
		return nil, autherr.Invalid(op, err.Error())
	}
	t, err := s.tokens.VerifyOneTimeToken(ctx, strings.TrimSpace(req.Token), vdomain.TypePasswordReset)
	if err != nil {
		return nil, err
	}
	u, err := s.loadUser(ctx, op, t.UserID)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	var n int
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tokens.ConsumeOneTimeToken(ctx, t); err != nil {
			return err
		}
		if err := s.users.SetPassword(ctx, u.ID, hash, s.now()); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		var err error
		n, err = s.revokeSessions(ctx, op, u.ID, "", sessiondomain.ReasonPasswordReset)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsRevoked(ctx, sessiondomain.ReasonPasswordReset, n)
	s.send(notify.KindPasswordChanged, u, "", s.now())
	s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionPasswordReset, auditdomain.ResourceUser, meta("sessions_revoked", strconv.Itoa(n)))
	return &RevokeResult{SessionsRevoked: n}, nil
}

// ChangePassword replaces the caller's password after checking the current
// one. Every other session of the user is ended; the caller's session stays.
func (s *AuthService) ChangePassword(ctx context.Context, p *tokenservice.Principal, req ChangePasswordRequest) autherr.Response[*RevokeResult] {
	ctx, span := s.metrics.Start(ctx, "auth.ChangePassword")
	defer span.End()
	res, err := s.changePassword(ctx, p, req)
	s.internal("auth.ChangePassword", err)
	return autherr.Result(res, err)
}

func (s *AuthService) changePassword(ctx context.Context, p *tokenservice.Principal, req ChangePasswordRequest) (*RevokeResult, error) {
	const op = "auth.ChangePassword"
	u, err := s.loadUser(ctx, op, p.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.confirmPassword(ctx, op, u, req.CurrentPassword); err != nil {
		return nil, err
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return nil, autherr.Invalid(op, err.Error())
	}
	if req.NewPassword == req.CurrentPassword {
		return nil, autherr.Invalid(op, "new password must differ from the current password")
	}
	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	var n int
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.SetPassword(ctx, u.ID, hash, s.now()); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		var err error
		n, err = s.revokeSessions(ctx, op, u.ID, p.SessionID, sessiondomain.ReasonPasswordChange)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.SessionsRevoked(ctx, sessiondomain.ReasonPasswordChange, n)
	s.send(notify.KindPasswordChanged, u, "", s.now())
	s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionPasswordChange, auditdomain.ResourceUser, meta("sessions_revoked", strconv.Itoa(n)))
	return &RevokeResult{SessionsRevoked: n}, nil
}
