package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"practice-portal/auth/internal/health"
	rbacservice "practice-portal/auth/internal/rbac/service"
	tokenservice "practice-portal/auth/internal/token/service"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

// tokenTable accepts the tokens it maps to principals.
type tokenTable map[string]*tokenservice.Principal

func (tt tokenTable) ValidateToken(_ context.Context, token string) (*tokenservice.Principal, error) {
	if p, ok := tt[token]; ok {
		return p, nil
	}
	return nil, errors.New("invalid token")
}

type staticGrants rbacservice.Grants

func (g staticGrants) Resolve(context.Context, string, string) (rbacservice.Grants, error) {
	return rbacservice.Grants(g), nil
}

func TestRegisterServices(t *testing.T) {
	reg := &mockServiceRegistrar{}
	RegisterServices(reg, Deps{Health: health.NewServer(nil, nil, nil), Grants: staticGrants{}})
	if len(reg.services) != 1 || reg.services[0] != healthpb.Health_ServiceDesc.ServiceName {
		t.Errorf("without Tokens registered %v, want only %s", reg.services, healthpb.Health_ServiceDesc.ServiceName)
	}

	reg = &mockServiceRegistrar{}
	RegisterServices(reg, Deps{Health: health.NewServer(nil, nil, nil), Tokens: tokenTable{}, Grants: staticGrants{}})
	if len(reg.services) != 2 || reg.services[1] != SessionServiceName {
		t.Errorf("registered %v, want health and %s", reg.services, SessionServiceName)
	}
}

func dialServer(t *testing.T, deps Deps) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer(deps)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewGRPCServer_HealthIsPublic(t *testing.T) {
	conn := dialServer(t, Deps{Health: health.NewServer(nil, nil, nil), Log: zerolog.Nop()})

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestSessionWhoAmI(t *testing.T) {
	exp := time.Now().Add(time.Minute)
	tokens := tokenTable{
		"live":  {UserID: "user-1", OrgID: "org-1", SessionID: "session-live", ExpiresAt: exp},
		"ended": {UserID: "user-1", OrgID: "org-1", SessionID: "session-ended", ExpiresAt: exp},
	}
	var (
		mu      sync.Mutex
		checked []string
	)
	sessions := func(_ context.Context, sessionID string) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		checked = append(checked, sessionID)
		return sessionID == "session-live", nil
	}
	conn := dialServer(t, Deps{
		Health:   health.NewServer(nil, nil, nil),
		Tokens:   tokens,
		Sessions: sessions,
		Grants:   staticGrants{Roles: []string{"doctor"}, Permissions: []string{"patients:read"}},
		Log:      zerolog.Nop(),
	})
	call := func(token string) (*structpb.Struct, error) {
		ctx := context.Background()
		if token != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		}
		out := new(structpb.Struct)
		err := conn.Invoke(ctx, SessionWhoAmIFullName, &emptypb.Empty{}, out)
		return out, err
	}

	for name, token := range map[string]string{"no token": "", "unknown token": "forged", "ended session": "ended"} {
		if _, err := call(token); status.Code(err) != codes.Unauthenticated {
			t.Errorf("%s: code = %v, want Unauthenticated", name, status.Code(err))
		}
	}

	out, err := call("live")
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	fields := out.AsMap()
	if fields["user_id"] != "user-1" || fields["session_id"] != "session-live" {
		t.Errorf("identity = %v", fields)
	}
	perms, _ := fields["permissions"].([]interface{})
	if len(perms) != 1 || perms[0] != "patients:read" {
		t.Errorf("permissions = %v", fields["permissions"])
	}
	mu.Lock()
	defer mu.Unlock()
	if len(checked) != 2 {
		t.Errorf("session validator ran for %v, want ended and live", checked)
	}
}
