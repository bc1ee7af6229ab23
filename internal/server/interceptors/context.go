package interceptors

import "context"

// Identity is the authenticated caller of a request. OrgID is "" for
// accounts without a practice.
type Identity struct {
	UserID    string
	OrgID     string
	SessionID string
}

// Client is where a request came from.
type Client struct {
	IP        string
	UserAgent string
}

type ctxKey int

const (
	identityKey ctxKey = iota
	clientKey
)

// WithIdentity returns a context carrying the authenticated caller. Both
// transports set it after token validation.
func WithIdentity(ctx context.Context, userID, orgID, sessionID string) context.Context {
	return context.WithValue(ctx, identityKey, Identity{UserID: userID, OrgID: orgID, SessionID: sessionID})
}

// IdentityFrom returns the caller set by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func GetUserID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	return id.UserID, ok
}

func GetOrgID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	return id.OrgID, ok
}

func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	return id.SessionID, ok
}

// WithClient returns a context carrying the caller's IP address and user agent.
// Sessions and audit entries record them.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, Client{IP: ip, UserAgent: userAgent})
}

// GetClientIP returns the client IP set by WithClient, or "".
func GetClientIP(ctx context.Context) string {
	c, _ := ctx.Value(clientKey).(Client)
	return c.IP
}

// GetUserAgent returns the user agent set by WithClient, or "".
func GetUserAgent(ctx context.Context) string {
	c, _ := ctx.Value(clientKey).(Client)
	return c.UserAgent
}
