// Package health reports readiness of the service's backing stores and serves
// it over the standard gRPC health protocol and GET /healthz.
package health

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger checks the database connection (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CachePinger checks the revocation store (e.g. *repository.RedisStore).
type CachePinger interface {
	Ping(ctx context.Context) error
}

// PolicyChecker checks that the login policy still evaluates (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Component status values in a Report.
const (
	StatusOK      = "ok"
	StatusDown    = "down"
	StatusSkipped = "skipped"
)

const checkTimeout = 2 * time.Second

// Report is the readiness of each dependency. Healthy is false when any
// configured dependency failed.
type Report struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// Server implements grpc.health.v1.Health. Nil dependencies are reported as
// skipped and do not affect readiness (in-memory mode).
type Server struct {
	healthpb.UnimplementedHealthServer

	db     Pinger
	cache  CachePinger
	policy PolicyChecker
}

// NewServer returns a health server over the given dependencies; any may be nil.
func NewServer(db Pinger, cache CachePinger, policy PolicyChecker) *Server {
	return &Server{db: db, cache: cache, policy: policy}
}

// Report checks every configured dependency.
func (s *Server) Report(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	r := Report{Healthy: true, Components: make(map[string]string, 3)}
	record := func(name string, configured bool, check func() error) {
		if !configured {
			r.Components[name] = StatusSkipped
			return
		}
		if err := check(); err != nil {
			r.Healthy = false
			r.Components[name] = StatusDown
			return
		}
		r.Components[name] = StatusOK
	}
	record("database", s.db != nil, func() error { return s.db.PingContext(ctx) })
	record("revocation", s.cache != nil, func() error { return s.cache.Ping(ctx) })
	record("policy", s.policy != nil, func() error { return s.policy.HealthCheck(ctx) })
	return r
}

// Check returns SERVING when every configured dependency responds. A failing
// dependency yields NOT_SERVING, never a gRPC error, so probes see a status.
func (s *Server) Check(ctx context.Context, _ *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if !s.Report(ctx).Healthy {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
