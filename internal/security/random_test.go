package security

import (
	"strings"
	"testing"
)

func TestNewOpaqueToken(t *testing.T) {
	a, err := NewOpaqueToken(PrefixRefresh)
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	if !strings.HasPrefix(a, PrefixRefresh) {
		t.Errorf("token %q missing prefix", a)
	}
	// 32 bytes base64url without padding is 43 chars.
	if got := len(a) - len(PrefixRefresh); got != 43 {
		t.Errorf("payload length = %d, want 43", got)
	}
	b, _ := NewOpaqueToken(PrefixRefresh)
	if a == b {
		t.Error("two tokens are equal")
	}
}

func TestNewRecoveryCodes(t *testing.T) {
	codes, err := NewRecoveryCodes(10)
	if err != nil {
		t.Fatalf("NewRecoveryCodes: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("len = %d, want 10", len(codes))
	}
	for _, c := range codes {
		if len(c) != 11 || c[5] != '-' {
			t.Errorf("code %q has wrong shape", c)
		}
		if strings.ContainsAny(c, "01IOL") {
			t.Errorf("code %q contains ambiguous characters", c)
		}
	}
}

func TestNormalizeRecoveryCode(t *testing.T) {
	if got := NormalizeRecoveryCode(" abcde-fghjk \n"); got != "ABCDE-FGHJK" {
		t.Errorf("NormalizeRecoveryCode = %q", got)
	}
}
