package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	tokenservice "practice-portal/auth/internal/token/service"
)

const bearerPrefix = "bearer "

// TokenValidator verifies an access token and returns its principal.
// *tokenservice.Service satisfies it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*tokenservice.Principal, error)
}

// SessionValidator reports whether sessionID is still active. Optional.
type SessionValidator func(ctx context.Context, sessionID string) (bool, error)

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and sets user_id, org_id, session_id in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. the health service). When sessions is not nil, a token whose session has
// ended is rejected even though its signature is valid.
func AuthUnary(tokens TokenValidator, publicMethods map[string]bool, sessions SessionValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		p, err := tokens.ValidateToken(ctx, token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		if sessions != nil && !public {
			ok, err := sessions(ctx, p.SessionID)
			if err != nil || !ok {
				return nil, status.Error(codes.Unauthenticated, "session is no longer active")
			}
		}

		ctx = WithIdentity(ctx, p.UserID, p.OrgID, p.SessionID)
		return handler(ctx, req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return ParseBearer(vals[0])
}

// ParseBearer returns the token from an Authorization header value, or "" when
// the value does not use the Bearer scheme.
func ParseBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
