package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// AuthMetrics holds the counters recorded by the authentication flows.
type AuthMetrics struct {
	loginAttempts        metric.Int64Counter
	refreshAttempts      metric.Int64Counter
	sessionsRevoked      metric.Int64Counter
	verificationAttempts metric.Int64Counter
	tracer               trace.Tracer
}

// NewAuthMetrics creates instruments on mp. A nil mp uses the global provider.
func NewAuthMetrics(mp metric.MeterProvider) (*AuthMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &AuthMetrics{tracer: otel.Tracer(instrumentationName)}
	var err error
	if m.loginAttempts, err = meter.Int64Counter("auth.login.attempts",
		metric.WithDescription("Login attempts by outcome")); err != nil {
		return nil, err
	}
	if m.refreshAttempts, err = meter.Int64Counter("auth.refresh.attempts",
		metric.WithDescription("Refresh-token rotations by outcome")); err != nil {
		return nil, err
	}
	if m.sessionsRevoked, err = meter.Int64Counter("auth.sessions.revoked",
		metric.WithDescription("Sessions deactivated by reason")); err != nil {
		return nil, err
	}
	if m.verificationAttempts, err = meter.Int64Counter("auth.verification.attempts",
		metric.WithDescription("One-time token verification attempts by type and outcome")); err != nil {
		return nil, err
	}
	return m, nil
}

// Login records one login attempt. Safe on a nil receiver.
func (m *AuthMetrics) Login(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) Refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) SessionsRevoked(ctx context.Context, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsRevoked.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *AuthMetrics) Verification(ctx context.Context, tokenType, outcome string) {
	if m == nil {
		return
	}
	m.verificationAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", tokenType),
		attribute.String("outcome", outcome),
	))
}

// Start opens a span named op. Safe on a nil receiver.
func (m *AuthMetrics) Start(ctx context.Context, op string) (context.Context, trace.Span) {
	if m == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, op)
}
