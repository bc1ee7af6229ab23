package security

import "time"

// testSigningKey is for unit tests only. Do not use in production.
const testSigningKey = "test-signing-key-0123456789abcdef-not-for-prod"

// NewTestTokenCodec returns a TokenCodec using the embedded test key.
// For unit tests only. Callers must not use in production.
func NewTestTokenCodec() *TokenCodec {
	c, err := NewTokenCodec([]byte(testSigningKey), "test", "test-issuer", "test-audience", 15*time.Minute)
	if err != nil {
		panic(err)
	}
	return c
}
