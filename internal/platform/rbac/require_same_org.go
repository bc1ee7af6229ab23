package rbac

import (
	"context"

	"practice-portal/auth/internal/autherr"
)

// RequireSameOrg ensures the caller is authenticated in targetOrgID. Admin
// actions use it so a practice administrator cannot reach another practice.
func RequireSameOrg(ctx context.Context, targetOrgID string) error {
	const op = "rbac.RequireSameOrg"
	orgID, _, err := identity(ctx, op)
	if err != nil {
		return err
	}
	if targetOrgID == "" || orgID != targetOrgID {
		return &autherr.Error{Kind: autherr.Unauthorized, Op: op, Public: "permission denied", Err: ErrPermissionDenied}
	}
	return nil
}
