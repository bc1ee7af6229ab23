package otel

import (
	"context"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"practice-portal/auth/internal/audit/domain"
)

const instrumentationName = "practice-portal/auth"

// AuditSink forwards audit entries to OTel Logs so they reach the collector
// alongside traces and metrics.
type AuditSink struct {
	logger otellog.Logger
}

// NewAuditSink returns a sink emitting through provider, or nil when provider is nil.
func NewAuditSink(provider *sdklog.LoggerProvider) *AuditSink {
	if provider == nil {
		return nil
	}
	return &AuditSink{logger: provider.Logger(instrumentationName)}
}

// NewAuditSinkWithLogger returns a sink using the given OTel logger. For tests.
func NewAuditSinkWithLogger(l otellog.Logger) *AuditSink {
	return &AuditSink{logger: l}
}

// Emit converts the entry to an OTel log record. Safe on a nil sink.
func (s *AuditSink) Emit(ctx context.Context, a *domain.AuditLog) {
	if s == nil || a == nil {
		return
	}
	rec := otellog.Record{}
	rec.SetTimestamp(a.CreatedAt)
	rec.SetEventName("audit." + a.Action)
	rec.SetSeverity(otellog.SeverityInfo)
	if a.Action == domain.ActionLoginFailure || a.Action == domain.ActionTwoFactorFailure {
		rec.SetSeverity(otellog.SeverityWarn)
	}
	rec.SetBody(otellog.StringValue(a.Action))
	rec.AddAttributes(
		otellog.String("audit.id", a.ID),
		otellog.String("org_id", a.OrgID),
		otellog.String("resource", a.Resource),
		otellog.String("client_ip", a.IP),
	)
	if a.UserID != "" {
		rec.AddAttributes(otellog.String("user_id", a.UserID))
	}
	if a.Metadata != "" {
		rec.AddAttributes(otellog.String("metadata", a.Metadata))
	}
	s.logger.Emit(ctx, rec)
}
