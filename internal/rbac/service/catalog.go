package service

import (
	"context"
	"errors"

	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/ids"
	"practice-portal/auth/internal/rbac/domain"
)

// RoleSpec describes one role and the permissions it carries.
type RoleSpec struct {
	Name        string
	Description string
	Permissions []string
}

// PracticeCatalog is the stock role set for a healthcare practice.
var PracticeCatalog = []RoleSpec{
	{
		Name:        "practice_admin",
		Description: "Manages staff accounts and role assignments",
		Permissions: []string{"roles:manage", "users:read", "users:manage", "audit:read", "patients:read"},
	},
	{
		Name:        "doctor",
		Description: "Clinician with prescribing rights",
		Permissions: []string{"patients:read", "patients:write", "consultations:read", "consultations:write", "prescriptions:write"},
	},
	{
		Name:        "nurse",
		Description: "Clinical support",
		Permissions: []string{"patients:read", "patients:write", "consultations:read"},
	},
	{
		Name:        "receptionist",
		Description: "Front desk and scheduling",
		Permissions: []string{"patients:read", "appointments:read", "appointments:write"},
	},
	{
		Name:        "staff",
		Description: "Default role for new accounts",
		Permissions: []string{"profile:read"},
	},
}

// EnsureCatalog creates every missing role in specs and grants its
// permissions. Existing roles and grants are left as they are, so it can run
// on every start.
func (r *Resolver) EnsureCatalog(ctx context.Context, specs []RoleSpec) error {
	const op = "rbac.EnsureCatalog"
	for _, spec := range specs {
		err := r.repo.CreateRole(ctx, &domain.Role{
			ID:          ids.NewID(),
			Name:        spec.Name,
			Description: spec.Description,
			CreatedAt:   r.now().UTC(),
		})
		if err != nil && !errors.Is(err, db.ErrConflict) {
			return autherr.Wrap(autherr.Internal, op, err)
		}
		for _, perm := range spec.Permissions {
			if err := r.GrantPermission(ctx, spec.Name, perm); err != nil && !autherr.Is(err, autherr.Conflict) {
				return err
			}
		}
	}
	return nil
}
