package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	rbacservice "practice-portal/auth/internal/rbac/service"
	"practice-portal/auth/internal/server/interceptors"
)

const (
	SessionServiceName    = "practiceportal.auth.v1.Session"
	SessionWhoAmIFullName = "/" + SessionServiceName + "/WhoAmI"
)

// GrantResolver returns the caller's live roles and permissions.
// *rbacservice.Resolver satisfies it.
type GrantResolver interface {
	Resolve(ctx context.Context, userID, orgID string) (rbacservice.Grants, error)
}

// SessionServer is the introspection API other practice services call with
// the user's Bearer token. Requests reach it only through AuthUnary.
type SessionServer interface {
	WhoAmI(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

// SessionService answers WhoAmI from the identity AuthUnary put in the context
// and grants resolved at call time, so a revoked role is visible before the
// access token expires.
type SessionService struct {
	grants GrantResolver
}

func NewSessionService(grants GrantResolver) *SessionService {
	return &SessionService{grants: grants}
}

func (s *SessionService) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	id, ok := interceptors.IdentityFrom(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	g, err := s.grants.Resolve(ctx, id.UserID, id.OrgID)
	if err != nil {
		return nil, status.Error(codes.Internal, "resolve grants")
	}
	return structpb.NewStruct(map[string]interface{}{
		"user_id":     id.UserID,
		"org_id":      id.OrgID,
		"session_id":  id.SessionID,
		"roles":       stringList(g.Roles),
		"permissions": stringList(g.Permissions),
	})
}

func stringList(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func sessionWhoAmIHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SessionWhoAmIFullName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(SessionServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// SessionServiceDesc describes the Session service over the well-known
// Empty and Struct messages.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: sessionWhoAmIHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "practiceportal/auth/v1/session.proto",
}

// RegisterSessionServer registers srv with s.
func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}
