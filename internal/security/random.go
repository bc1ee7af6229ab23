package security

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// Prefixes tag opaque tokens by purpose so a token of one kind is never
// accepted where another is expected.
const (
	PrefixRefresh           = "rt_"
	PrefixSession           = "st_"
	PrefixEmailVerification = "ev_"
	PrefixPasswordReset     = "pr_"
	PrefixTwoFactor         = "tf_"
	PrefixTrustedDevice     = "td_"
)

const opaqueTokenBytes = 32

// NewOpaqueToken returns prefix followed by 256 random bits, base64url encoded.
func NewOpaqueToken(prefix string) (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// recoveryAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const recoveryAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// NewRecoveryCodes returns n codes of the form XXXXX-XXXXX.
func NewRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		b := make([]byte, 10)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		var sb strings.Builder
		for j, c := range b {
			if j == 5 {
				sb.WriteByte('-')
			}
			sb.WriteByte(recoveryAlphabet[int(c)%len(recoveryAlphabet)])
		}
		codes = append(codes, sb.String())
	}
	return codes, nil
}

// NormalizeRecoveryCode upper-cases and strips whitespace so user input
// hashes the same as the issued code.
func NormalizeRecoveryCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), ""))
}
