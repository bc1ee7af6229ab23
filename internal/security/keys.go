package security

import (
	"encoding/base64"
	"errors"
	"os"
	"strings"
)

// MinSigningKeyLen is the minimum HS256 secret length in bytes.
const MinSigningKeyLen = 32

var (
	// ErrInvalidKey is returned when the signing key is missing or unreadable.
	ErrInvalidKey = errors.New("invalid signing key")
	// ErrShortKey is returned when the signing key is shorter than MinSigningKeyLen.
	ErrShortKey = errors.New("signing key must be at least 32 bytes")
)

// LoadSigningKey resolves the HMAC signing secret from configuration. s may be
// "base64:<data>", a path to a file holding the secret, or the raw secret.
func LoadSigningKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	var key []byte
	switch {
	case strings.HasPrefix(s, "base64:"):
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "base64:"))
		if err != nil {
			return nil, ErrInvalidKey
		}
		key = b
	case looksLikePath(s):
		b, err := os.ReadFile(s)
		if err != nil {
			return nil, err
		}
		key = []byte(strings.TrimSpace(string(b)))
	default:
		key = []byte(s)
	}
	if len(key) < MinSigningKeyLen {
		return nil, ErrShortKey
	}
	return key, nil
}

func looksLikePath(s string) bool {
	if !strings.ContainsAny(s, "/\\") {
		return false
	}
	_, err := os.Stat(s)
	return err == nil
}
