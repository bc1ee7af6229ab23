package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestAuthMetrics_RecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewAuthMetrics(mp)
	if err != nil {
		t.Fatalf("NewAuthMetrics: %v", err)
	}
	ctx := context.Background()
	m.Login(ctx, "success")
	m.Login(ctx, "invalid_credentials")
	m.SessionsRevoked(ctx, "revoke_all", 3)
	m.SessionsRevoked(ctx, "revoke_all", 0)
	m.Verification(ctx, "two_factor", "ok")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[md.Name] += dp.Value
				}
			}
		}
	}
	if totals["auth.login.attempts"] != 2 || totals["auth.sessions.revoked"] != 3 || totals["auth.verification.attempts"] != 1 {
		t.Errorf("totals = %v", totals)
	}
}

func TestAuthMetrics_NilSafe(t *testing.T) {
	var m *AuthMetrics
	ctx := context.Background()
	m.Login(ctx, "x")
	m.Refresh(ctx, "x")
	m.SessionsRevoked(ctx, "x", 1)
	m.Verification(ctx, "x", "y")
	ctx2, span := m.Start(ctx, "op")
	span.End()
	if ctx2 != ctx {
		t.Error("nil metrics should return the same context")
	}
}
