package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"practice-portal/auth/internal/audit/domain"
)

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	otellog.Logger
	rec otellog.Record
	n   int
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
	r.n++
}

func TestNewAuditSink_NilProvider(t *testing.T) {
	var s *AuditSink = NewAuditSink(nil)
	if s != nil {
		t.Fatal("expected nil sink")
	}
	s.Emit(context.Background(), &domain.AuditLog{})
}

func TestNewAuditSink_WithProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	if NewAuditSink(provider) == nil {
		t.Fatal("expected sink")
	}
}

func TestAuditSink_AttributeMapping(t *testing.T) {
	cap := &recordCapture{}
	s := NewAuditSinkWithLogger(cap)
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	s.Emit(context.Background(), &domain.AuditLog{
		ID: "a1", OrgID: "org-1", UserID: "u1", Action: domain.ActionLoginFailure,
		Resource: domain.ResourceUser, IP: "10.1.1.1", Metadata: "bad_password", CreatedAt: at,
	})
	if cap.n != 1 {
		t.Fatalf("emitted %d records", cap.n)
	}
	if !cap.rec.Timestamp().Equal(at) || cap.rec.Severity() != otellog.SeverityWarn {
		t.Errorf("timestamp/severity = %v %v", cap.rec.Timestamp(), cap.rec.Severity())
	}
	attrs := map[string]string{}
	cap.rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	for k, want := range map[string]string{"org_id": "org-1", "user_id": "u1", "client_ip": "10.1.1.1", "metadata": "bad_password"} {
		if attrs[k] != want {
			t.Errorf("%s = %q, want %q", k, attrs[k], want)
		}
	}
}
