package security

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadSigningKey_Inline(t *testing.T) {
	raw := strings.Repeat("k", 32)
	key, err := LoadSigningKey(raw)
	if err != nil {
		t.Fatalf("LoadSigningKey: %v", err)
	}
	if string(key) != raw {
		t.Errorf("key = %q", key)
	}
}

func TestLoadSigningKey_Base64(t *testing.T) {
	secret := []byte(strings.Repeat("\x01", 40))
	key, err := LoadSigningKey("base64:" + base64.StdEncoding.EncodeToString(secret))
	if err != nil {
		t.Fatalf("LoadSigningKey: %v", err)
	}
	if len(key) != 40 {
		t.Errorf("len = %d, want 40", len(key))
	}
}

func TestLoadSigningKey_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt.key")
	if err := os.WriteFile(path, []byte(strings.Repeat("f", 48)+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	key, err := LoadSigningKey(path)
	if err != nil {
		t.Fatalf("LoadSigningKey: %v", err)
	}
	if len(key) != 48 {
		t.Errorf("len = %d, want 48 (trailing newline trimmed)", len(key))
	}
}

func TestLoadSigningKey_Errors(t *testing.T) {
	if _, err := LoadSigningKey("  "); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("empty: want ErrInvalidKey, got %v", err)
	}
	if _, err := LoadSigningKey("too-short"); !errors.Is(err, ErrShortKey) {
		t.Errorf("short: want ErrShortKey, got %v", err)
	}
	if _, err := LoadSigningKey("base64:!!!"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("bad base64: want ErrInvalidKey, got %v", err)
	}
}
