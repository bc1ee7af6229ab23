package security

import (
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrInvalidTOTPConfig is returned for unsupported digit counts or periods.
var ErrInvalidTOTPConfig = errors.New("invalid totp configuration")

// TOTP generates authenticator secrets and validates codes (RFC 6238, SHA-1).
type TOTP struct {
	Issuer string
	Digits int
	Period uint
	Skew   uint
}

// NewTOTP returns a TOTP with the given parameters. digits must be 6 or 8.
func NewTOTP(issuer string, digits int, period, skew uint) (*TOTP, error) {
	if digits != 6 && digits != 8 {
		return nil, ErrInvalidTOTPConfig
	}
	if period == 0 {
		return nil, ErrInvalidTOTPConfig
	}
	return &TOTP{Issuer: issuer, Digits: digits, Period: period, Skew: skew}, nil
}

// Generate creates a new base32 secret for account and its otpauth:// URI.
func (t *TOTP) Generate(account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.Issuer,
		AccountName: account,
		Period:      t.Period,
		Digits:      otp.Digits(t.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// Validate reports whether code is valid for secret at the given instant,
// allowing Skew periods on either side.
func (t *TOTP) Validate(code, secret string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != t.Digits || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), t.opts())
	return err == nil && ok
}

// Code returns the code for secret at the given instant.
func (t *TOTP) Code(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), t.opts())
}

func (t *TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    t.Period,
		Skew:      t.Skew,
		Digits:    otp.Digits(t.Digits),
		Algorithm: otp.AlgorithmSHA1,
	}
}
