package domain

import "time"

// Session is one server-tracked login. Only hashes of the session and refresh
// tokens are stored. Active moves from true to false exactly once.
type Session struct {
	ID               string
	UserID           string
	OrgID            string
	DeviceID         string
	SessionTokenHash string
	RefreshTokenHash string
	// AccessJTI is the id of the most recent access token minted for this
	// session; it is added to the revocation set when the session ends.
	AccessJTI       string
	AccessExpiresAt time.Time
	IPAddress       string
	UserAgent       string
	Active          bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
	LastSeenAt      *time.Time
	RevokedAt       *time.Time // nil while active
	RevokeReason    string
}

// IsUsable reports whether the session is active and unexpired at now.
func (s *Session) IsUsable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// Revoke reasons recorded on deactivation.
const (
	ReasonLogout         = "logout"
	ReasonTerminated     = "terminated"
	ReasonRevokeAll      = "revoke_all"
	ReasonPasswordChange = "password_change"
	ReasonPasswordReset  = "password_reset"
	ReasonExpired        = "expired"
)
