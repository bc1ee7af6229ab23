package service

import (
	"context"
	"errors"
	"strings"

	auditdomain "practice-portal/auth/internal/audit/domain"
	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/ids"
	"practice-portal/auth/internal/notify"
	userdomain "practice-portal/auth/internal/user/domain"
	vdomain "practice-portal/auth/internal/verification/domain"
)

// RegisterRequest is the input to Register.
type RegisterRequest struct {
	OrgID    string `json:"org_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// RegisterResult is the outcome of Register. The verification token is
// delivered out of band and never returned.
type RegisterResult struct {
	User                 *UserView `json:"user"`
	VerificationRequired bool      `json:"verification_required"`
}

// Register creates a user in req.OrgID and sends an email verification token.
// Fails with Conflict when the email is already registered in the organization.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) autherr.Response[*RegisterResult] {
	ctx, span := s.metrics.Start(ctx, "auth.Register")
	defer span.End()
	res, err := s.register(ctx, req)
	s.internal("auth.Register", err)
	return autherr.Result(res, err)
}

func (s *AuthService) register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	const op = "auth.Register"
	email := normalizeEmail(req.Email)
	orgID := strings.TrimSpace(req.OrgID)
	if err := validateEmail(email); err != nil {
		return nil, autherr.Invalid(op, err.Error())
	}
	if err := validatePassword(req.Password); err != nil {
		return nil, autherr.Invalid(op, err.Error())
	}
	existing, err := s.users.GetByEmail(ctx, orgID, email)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	if existing != nil {
		return nil, &autherr.Error{Kind: autherr.Conflict, Op: op, Public: "email already registered"}
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	now := s.now()
	u := &userdomain.User{
		ID:           ids.NewID(),
		OrgID:        orgID,
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Active:       !s.opts.RequireEmailVerification,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(); err != nil {
		return nil, autherr.Invalid(op, err.Error())
	}

	var raw string
	var token *vdomain.Token
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			if errors.Is(err, db.ErrConflict) {
				return &autherr.Error{Kind: autherr.Conflict, Op: op, Public: "email already registered"}
			}
			return autherr.Wrap(autherr.Internal, op, err)
		}
		if s.opts.DefaultRole != "" {
			err := s.resolver.AssignRole(ctx, u.ID, s.opts.DefaultRole, orgID)
			if err != nil && !autherr.Is(err, autherr.NotFound) {
				return err
			}
		}
		var err error
		raw, token, err = s.tokens.IssueOneTimeToken(ctx, u.ID, vdomain.TypeEmailVerification, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.send(notify.KindEmailVerification, u, raw, token.ExpiresAt)
	s.audit.LogEvent(ctx, orgID, u.ID, auditdomain.ActionRegister, auditdomain.ResourceUser, "")
	s.log.Info().Str("user_id", u.ID).Str("org_id", orgID).Msg("user registered")
	return &RegisterResult{User: viewOf(u), VerificationRequired: !u.Active}, nil
}

// VerifyEmail consumes an email verification token, marks the address
// verified and activates the account if it was waiting on verification.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) autherr.Response[*UserView] {
	ctx, span := s.metrics.Start(ctx, "auth.VerifyEmail")
	defer span.End()
	res, err := s.verifyEmail(ctx, token)
	s.metrics.Verification(ctx, string(vdomain.TypeEmailVerification), outcome(err))
	s.internal("auth.VerifyEmail", err)
	return autherr.Result(res, err)
}

func (s *AuthService) verifyEmail(ctx context.Context, raw string) (*UserView, error) {
	const op = "auth.VerifyEmail"
	t, err := s.tokens.VerifyOneTimeToken(ctx, raw, vdomain.TypeEmailVerification)
	if err != nil {
		return nil, err
	}
	u, err := s.loadUser(ctx, op, t.UserID)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tokens.ConsumeOneTimeToken(ctx, t); err != nil {
			return err
		}
		if u.IsEmailVerified() {
			return nil
		}
		now := s.now()
		u.EmailVerifiedAt = &now
		u.Active = true
		u.UpdatedAt = now
		if err := s.users.Update(ctx, u); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionVerifyEmail, auditdomain.ResourceUser, "")
	return viewOf(u), nil
}

// ResendEmailVerification issues a fresh verification token, superseding any
// earlier one. The response is the same whether or not the address is
// registered or already verified.
func (s *AuthService) ResendEmailVerification(ctx context.Context, orgID, email string) autherr.Response[Empty] {
	const op = "auth.ResendEmailVerification"
	ctx, span := s.metrics.Start(ctx, op)
	defer span.End()
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(orgID), normalizeEmail(email))
	if err != nil {
		s.internal(op, err)
		return autherr.Fail[Empty](autherr.Wrap(autherr.Internal, op, err))
	}
	if u == nil || u.IsEmailVerified() {
		return autherr.OK(Empty{})
	}
	raw, token, err := s.tokens.IssueOneTimeToken(ctx, u.ID, vdomain.TypeEmailVerification, "")
	if err != nil {
		s.internal(op, err)
		return autherr.Fail[Empty](err)
	}
	s.send(notify.KindEmailVerification, u, raw, token.ExpiresAt)
	return autherr.OK(Empty{})
}

// outcome is the metric label for a flow result.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return autherr.KindOf(err).Code()
}
