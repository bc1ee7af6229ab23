// Package rbac holds transport-side guards that check the caller's identity,
// set by the auth middleware, against the permission resolver.
package rbac

import (
	"context"
	"errors"

	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/server/interceptors"
)

// ErrPermissionDenied marks an authenticated caller that lacks a permission.
// Transports map it to 403 rather than 401.
var ErrPermissionDenied = errors.New("permission denied")

// PermissionChecker reports whether a user holds a permission in an org.
// *rbac/service.Resolver satisfies it.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, perm, orgID string) (bool, error)
}

// RequirePermission ensures the caller is authenticated and currently holds perm
// in the context org. Returns (orgID, userID, nil) on success.
func RequirePermission(ctx context.Context, checker PermissionChecker, perm string) (orgID, userID string, err error) {
	const op = "rbac.RequirePermission"
	orgID, userID, err = identity(ctx, op)
	if err != nil {
		return "", "", err
	}
	ok, err := checker.HasPermission(ctx, userID, perm, orgID)
	if err != nil {
		return "", "", autherr.Wrap(autherr.Internal, op, err)
	}
	if !ok {
		return "", "", &autherr.Error{Kind: autherr.Unauthorized, Op: op, Public: "permission denied", Err: ErrPermissionDenied}
	}
	return orgID, userID, nil
}

func identity(ctx context.Context, op string) (orgID, userID string, err error) {
	orgID, okOrg := interceptors.GetOrgID(ctx)
	userID, okUser := interceptors.GetUserID(ctx)
	if !okOrg || orgID == "" || !okUser || userID == "" {
		return "", "", &autherr.Error{Kind: autherr.Unauthorized, Op: op, Public: "org and user context required"}
	}
	return orgID, userID, nil
}
