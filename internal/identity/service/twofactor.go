package service

import (
	"context"
	"strings"

	auditdomain "practice-portal/auth/internal/audit/domain"
	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/security"
	tokenservice "practice-portal/auth/internal/token/service"
	vdomain "practice-portal/auth/internal/verification/domain"
)

// TwoFactorSetup is returned once by SetupTwoFactor. The recovery codes are
// stored only as hashes and cannot be shown again.
type TwoFactorSetup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	RecoveryCodes   []string `json:"recovery_codes"`
}

// SetupTwoFactor generates a TOTP secret and recovery codes for the caller
// without enabling two-factor login. Calling it again replaces both.
func (s *AuthService) SetupTwoFactor(ctx context.Context, p *tokenservice.Principal) autherr.Response[*TwoFactorSetup] {
	res, err := s.setupTwoFactor(ctx, p)
	s.internal("auth.SetupTwoFactor", err)
	return autherr.Result(res, err)
}

func (s *AuthService) setupTwoFactor(ctx context.Context, p *tokenservice.Principal) (*TwoFactorSetup, error) {
	const op = "auth.SetupTwoFactor"
	u, err := s.loadUser(ctx, op, p.UserID)
	if err != nil {
		return nil, err
	}
	if u.TwoFactorEnabled {
		return nil, &autherr.Error{Kind: autherr.InvalidState, Op: op, Public: "two-factor authentication is already enabled"}
	}
	secret, uri, err := s.totp.Generate(u.Email)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	codes, err := security.NewRecoveryCodes(s.opts.RecoveryCodeCount)
	if err != nil {
		return nil, autherr.Wrap(autherr.Internal, op, err)
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = recoveryCodeHash(c)
	}
	now := s.now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		u.TwoFactorSecret = secret
		u.UpdatedAt = now
		if err := s.users.Update(ctx, u); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		if err := s.users.ReplaceRecoveryCodes(ctx, u.ID, hashes, now); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &TwoFactorSetup{Secret: secret, ProvisioningURI: uri, RecoveryCodes: codes}, nil
}

// EnableTwoFactor turns on two-factor login once code verifies against the
// secret from SetupTwoFactor. Wrong codes count toward the account lockout.
func (s *AuthService) EnableTwoFactor(ctx context.Context, p *tokenservice.Principal, code string) autherr.Response[*UserView] {
	const op = "auth.EnableTwoFactor"
	u, err := s.loadUser(ctx, op, p.UserID)
	if err != nil {
		return autherr.Fail[*UserView](err)
	}
	switch {
	case u.TwoFactorEnabled:
		return autherr.Fail[*UserView](&autherr.Error{Kind: autherr.InvalidState, Op: op, Public: "two-factor authentication is already enabled"})
	case u.TwoFactorSecret == "":
		return autherr.Fail[*UserView](&autherr.Error{Kind: autherr.InvalidState, Op: op, Public: "two-factor setup has not been started"})
	}
	if u.IsLockedOut(s.now()) {
		return autherr.Fail[*UserView](autherr.New(autherr.InvalidCredentials, op))
	}
	if !s.totp.Validate(strings.TrimSpace(code), u.TwoFactorSecret, s.now()) {
		if _, err := s.recordFailure(ctx, op, u); err != nil {
			s.internal(op, err)
			return autherr.Fail[*UserView](err)
		}
		return autherr.Fail[*UserView](autherr.New(autherr.InvalidCredentials, op))
	}
	u.TwoFactorEnabled = true
	u.UpdatedAt = s.now()
	if err := s.users.Update(ctx, u); err != nil {
		err = autherr.Wrap(autherr.Internal, op, err)
		s.internal(op, err)
		return autherr.Fail[*UserView](err)
	}
	s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionTwoFactorEnable, auditdomain.ResourceUser, "")
	return autherr.OK(viewOf(u))
}

// DisableTwoFactor turns off two-factor login after the caller re-enters
// their password. The secret, recovery codes, pending challenges and every
// trusted-device token are discarded.
func (s *AuthService) DisableTwoFactor(ctx context.Context, p *tokenservice.Principal, password string) autherr.Response[*UserView] {
	res, err := s.disableTwoFactor(ctx, p, password)
	s.internal("auth.DisableTwoFactor", err)
	return autherr.Result(res, err)
}

func (s *AuthService) disableTwoFactor(ctx context.Context, p *tokenservice.Principal, password string) (*UserView, error) {
	const op = "auth.DisableTwoFactor"
	u, err := s.loadUser(ctx, op, p.UserID)
	if err != nil {
		return nil, err
	}
	if !u.TwoFactorEnabled {
		return nil, &autherr.Error{Kind: autherr.InvalidState, Op: op, Public: "two-factor authentication is not enabled"}
	}
	if err := s.confirmPassword(ctx, op, u, password); err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		u.UpdatedAt = s.now()
		if err := s.users.Update(ctx, u); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		if err := s.users.DeleteRecoveryCodes(ctx, u.ID); err != nil {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		if err := s.tokens.InvalidateOneTimeTokens(ctx, u.ID, vdomain.TypeTwoFactor); err != nil {
			return err
		}
		return s.tokens.InvalidateOneTimeTokens(ctx, u.ID, vdomain.TypeTrustedDevice)
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, u.OrgID, u.ID, auditdomain.ActionTwoFactorDisable, auditdomain.ResourceUser, "")
	return viewOf(u), nil
}
