package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/rbac/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an RBAC repository backed by db.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

func (r *PostgresRepository) CreateRole(ctx context.Context, role *domain.Role) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO roles (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
		role.ID, role.Name, role.Description, role.CreatedAt)
	return db.MapError(err)
}

func (r *PostgresRepository) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	var (
		role domain.Role
		desc sql.NullString
	)
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM roles WHERE name = $1`, name).
		Scan(&role.ID, &role.Name, &desc, &role.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	role.Description = desc.String
	return &role, nil
}

func (r *PostgresRepository) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	return r.queryRoles(ctx, `SELECT id, name, description, created_at FROM roles ORDER BY name`)
}

func (r *PostgresRepository) ListActiveRoles(ctx context.Context, userID, orgID string) ([]*domain.Role, error) {
	return r.queryRoles(ctx, `SELECT DISTINCT r.id, r.name, r.description, r.created_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1 AND ur.active AND (ur.org_id = $2 OR ur.org_id = '')
		ORDER BY r.name`, userID, orgID)
}

func (r *PostgresRepository) queryRoles(ctx context.Context, query string, args ...any) ([]*domain.Role, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Role
	for rows.Next() {
		var (
			role domain.Role
			desc sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &role.CreatedAt); err != nil {
			return nil, err
		}
		role.Description = desc.String
		out = append(out, &role)
	}
	return out, rows.Err()
}

// AssignRole inserts an active assignment. A partial unique index on
// (user_id, role_id, org_id) WHERE active rejects duplicates.
func (r *PostgresRepository) AssignRole(ctx context.Context, ur *domain.UserRole) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO user_roles (id, user_id, role_id, org_id, active, created_at) VALUES ($1, $2, $3, $4, true, $5)`,
		ur.ID, ur.UserID, ur.RoleID, ur.OrgID, ur.CreatedAt)
	return db.MapError(err)
}

func (r *PostgresRepository) DeactivateAssignment(ctx context.Context, userID, roleID, orgID string, at time.Time) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE user_roles SET active = false, revoked_at = $4
		WHERE user_id = $1 AND role_id = $2 AND org_id = $3 AND active`, userID, roleID, orgID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *PostgresRepository) ListPermissions(ctx context.Context, roleIDs []string) ([]*domain.AccessPermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, role_id, resource, action, active, created_at FROM access_permissions
		WHERE role_id = ANY($1) AND active ORDER BY resource, action`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AccessPermission
	for rows.Next() {
		var p domain.AccessPermission
		if err := rows.Scan(&p.ID, &p.RoleID, &p.Resource, &p.Action, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GrantPermission(ctx context.Context, p *domain.AccessPermission) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO access_permissions (id, role_id, resource, action, active, created_at) VALUES ($1, $2, $3, $4, true, $5)`,
		p.ID, p.RoleID, p.Resource, p.Action, p.CreatedAt)
	return db.MapError(err)
}

func (r *PostgresRepository) DeactivatePermission(ctx context.Context, roleID, resource, action string) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE access_permissions SET active = false WHERE role_id = $1 AND resource = $2 AND action = $3 AND active`,
		roleID, resource, action)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
