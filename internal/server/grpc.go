package server

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"practice-portal/auth/internal/health"
	"practice-portal/auth/internal/server/interceptors"
)

// Deps holds the dependencies of the gRPC server.
type Deps struct {
	// Health answers grpc.health.v1.Health. Required.
	Health *health.Server
	// Tokens validates Bearer tokens for non-public methods. If nil, only public methods are reachable.
	Tokens interceptors.TokenValidator
	// Sessions rejects tokens whose session has ended. Optional.
	Sessions interceptors.SessionValidator
	// Grants backs the Session service, which is registered only together
	// with Tokens so it is never reachable unauthenticated.
	Grants GrantResolver
	Log    zerolog.Logger
}

// PublicMethods are the full method names reachable without a Bearer token.
var PublicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
	healthpb.Health_List_FullMethodName:  true,
}

// NewGRPCServer returns a gRPC server with tracing, client, logging and auth
// interceptors installed and every service registered.
func NewGRPCServer(deps Deps) *grpc.Server {
	unary := []grpc.UnaryServerInterceptor{
		interceptors.ClientUnary(),
		interceptors.LoggingUnary(deps.Log, PublicMethods),
	}
	if deps.Tokens != nil {
		unary = append(unary, interceptors.AuthUnary(deps.Tokens, PublicMethods, deps.Sessions))
	}
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers every gRPC service with s.
//
// Service → implementation:
//   - grpc.health.v1.Health → internal/health
//   - practiceportal.auth.v1.Session → SessionService (needs Tokens and Grants)
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	healthpb.RegisterHealthServer(s, deps.Health)
	if deps.Tokens != nil && deps.Grants != nil {
		RegisterSessionServer(s, NewSessionService(deps.Grants))
	}
}
