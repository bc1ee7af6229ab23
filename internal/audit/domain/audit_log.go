package domain

import "time"

// AuditLog is one security-relevant event. UserID is empty for events with
// no resolved user, such as a login with an unknown email.
type AuditLog struct {
	ID        string
	OrgID     string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Actions recorded by the authentication flows.
const (
	ActionRegister           = "register"
	ActionVerifyEmail        = "verify_email"
	ActionLoginSuccess       = "login_success"
	ActionLoginFailure       = "login_failure"
	ActionTwoFactorChallenge = "two_factor_challenge"
	ActionTwoFactorFailure   = "two_factor_failure"
	ActionRefresh            = "refresh"
	ActionLogout             = "logout"
	ActionSessionTerminated  = "session_terminated"
	ActionRevokeAll          = "revoke_all"
	ActionPasswordResetReq   = "password_reset_requested"
	ActionPasswordReset      = "password_reset"
	ActionPasswordChange     = "password_change"
	ActionTwoFactorEnable    = "two_factor_enable"
	ActionTwoFactorDisable   = "two_factor_disable"
	ActionRoleAssigned       = "role_assigned"
	ActionRoleRevoked        = "role_revoked"
)

// Resources named in audit entries.
const (
	ResourceUser    = "user"
	ResourceSession = "session"
	ResourceToken   = "token"
	ResourceRole    = "role"
)
