package interceptors

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLoggingUnary(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	interceptor := LoggingUnary(log, map[string]bool{"/grpc.health.v1.Health/Check": true})

	_, _ = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, okHandler)
	if buf.Len() != 0 {
		t.Fatalf("skipped method was logged: %s", buf.String())
	}

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test.Service/Fail"},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.Internal, "boom")
		})
	if status.Code(err) != codes.Internal {
		t.Fatalf("error = %v, want the handler's error", err)
	}
	out := buf.String()
	for _, want := range []string{`"level":"error"`, `"method":"/test.Service/Fail"`, `"code":"Internal"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %s missing %s", out, want)
		}
	}
}
