package interceptors

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that writes one structured
// log line per RPC. skipMethods is the set of full method names not to log
// (e.g. health checks polled by the orchestrator).
func LoggingUnary(log zerolog.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		ev := log.Info()
		switch code {
		case codes.OK, codes.NotFound, codes.Unauthenticated, codes.InvalidArgument, codes.PermissionDenied:
		default:
			ev = log.Warn()
		}
		if code == codes.Internal || code == codes.Unknown {
			ev = log.Error().Err(err)
		}
		userID, _ := GetUserID(ctx)
		ev.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Str("client_ip", ClientIP(ctx)).
			Str("user_id", userID).
			Msg("grpc request")
		return resp, err
	}
}
