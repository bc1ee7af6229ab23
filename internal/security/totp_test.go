package security

import (
	"strings"
	"testing"
	"time"
)

func TestTOTP_GenerateAndValidate(t *testing.T) {
	tp, err := NewTOTP("Practice Portal", 6, 30, 1)
	if err != nil {
		t.Fatalf("NewTOTP: %v", err)
	}
	secret, uri, err := tp.Generate("dr@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if secret == "" || !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("secret=%q uri=%q", secret, uri)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	code, err := tp.Code(secret, now)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if !tp.Validate(code, secret, now) {
		t.Error("Validate current code: want true")
	}
	if !tp.Validate(code, secret, now.Add(30*time.Second)) {
		t.Error("Validate within skew: want true")
	}
	if tp.Validate(code, secret, now.Add(5*time.Minute)) {
		t.Error("Validate outside skew: want false")
	}
	if tp.Validate("12345", secret, now) {
		t.Error("Validate wrong length: want false")
	}
}

func TestNewTOTP_InvalidConfig(t *testing.T) {
	if _, err := NewTOTP("x", 7, 30, 1); err != ErrInvalidTOTPConfig {
		t.Errorf("digits 7: want ErrInvalidTOTPConfig, got %v", err)
	}
	if _, err := NewTOTP("x", 6, 0, 1); err != ErrInvalidTOTPConfig {
		t.Errorf("period 0: want ErrInvalidTOTPConfig, got %v", err)
	}
}
