package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLogger_LevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "practice-auth")
	log.Info().Msg("hidden")
	log.Warn().Str("kind", "bad_password").Msg("login failed")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["service"] != "practice-auth" || entry["kind"] != "bad_password" || entry["level"] != "warn" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestNewLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "chatty", "svc")
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Errorf("output = %q", buf.String())
	}
}
