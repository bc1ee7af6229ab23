package repository

import (
	"context"
	"time"

	"practice-portal/auth/internal/rbac/domain"
)

// Repository defines persistence for roles, role assignments and permissions.
// Lookups return (nil, nil) when missing. Writes that would duplicate an
// active row return db.ErrConflict.
type Repository interface {
	CreateRole(ctx context.Context, r *domain.Role) error
	GetRoleByName(ctx context.Context, name string) (*domain.Role, error)
	ListRoles(ctx context.Context) ([]*domain.Role, error)

	// ListActiveRoles returns roles with an active assignment for userID in
	// orgID or globally. With orgID "" only global assignments count.
	ListActiveRoles(ctx context.Context, userID, orgID string) ([]*domain.Role, error)
	AssignRole(ctx context.Context, ur *domain.UserRole) error
	// DeactivateAssignment deactivates the active assignment; false if none.
	DeactivateAssignment(ctx context.Context, userID, roleID, orgID string, at time.Time) (bool, error)

	// ListPermissions returns active permissions granted to any of roleIDs.
	ListPermissions(ctx context.Context, roleIDs []string) ([]*domain.AccessPermission, error)
	GrantPermission(ctx context.Context, p *domain.AccessPermission) error
	// DeactivatePermission deactivates the active grant; false if none.
	DeactivatePermission(ctx context.Context, roleID, resource, action string) (bool, error)
}
