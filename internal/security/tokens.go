package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"practice-portal/auth/internal/ids"
)

var (
	// ErrTokenMalformed is returned for tokens that cannot be parsed or carry
	// unexpected claims (issuer, audience, missing subject).
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignature is returned when the signature, algorithm or key id
	// does not verify.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenExpired is returned when a correctly signed token is past exp.
	ErrTokenExpired = errors.New("token expired")
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	OrgID       string   `json:"org_id,omitempty"`
	SessionID   string   `json:"sid"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
}

// AccessSubject is everything encoded into an access token.
type AccessSubject struct {
	UserID      string
	OrgID       string
	SessionID   string
	Roles       []string
	Permissions []string
}

// IssuedToken is a signed access token plus the metadata needed to revoke it.
type IssuedToken struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec signs and verifies HS256 access tokens. The key id is written to
// the kid header and checked on parse so a second key can be introduced later.
type TokenCodec struct {
	key       []byte
	keyID     string
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenCodec returns a codec signing with key. key must be at least
// MinSigningKeyLen bytes.
func NewTokenCodec(key []byte, keyID, issuer, audience string, accessTTL time.Duration) (*TokenCodec, error) {
	if len(key) < MinSigningKeyLen {
		return nil, ErrShortKey
	}
	if accessTTL <= 0 {
		return nil, fmt.Errorf("access ttl must be positive")
	}
	return &TokenCodec{
		key:       key,
		keyID:     keyID,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       time.Now,
	}, nil
}

// WithClock overrides the time source used for iat/exp and validation.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	c.now = now
	return c
}

// AccessTTL returns the configured access-token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// Issue signs a new access token for sub.
func (c *TokenCodec) Issue(sub AccessSubject) (IssuedToken, error) {
	if sub.UserID == "" || sub.SessionID == "" {
		return IssuedToken{}, ErrTokenMalformed
	}
	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(c.accessTTL)
	jti := ids.NewULID()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.UserID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		OrgID:       sub.OrgID,
		SessionID:   sub.SessionID,
		Roles:       sub.Roles,
		Permissions: sub.Permissions,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if c.keyID != "" {
		t.Header["kid"] = c.keyID
	}
	signed, err := t.SignedString(c.key)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, JTI: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Parse verifies signature, algorithm, key id, expiry, issuer and audience and
// returns the claims. Errors are one of ErrTokenMalformed, ErrTokenSignature
// or ErrTokenExpired.
func (c *TokenCodec) Parse(tokenString string) (*AccessClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	token, err := parser.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if c.keyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != c.keyID {
				return nil, errors.New("unknown kid")
			}
		}
		return c.key, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.ID == "" || claims.SessionID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
