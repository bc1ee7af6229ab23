package repository

import (
	"context"
	"database/sql"
	"fmt"

	"practice-portal/auth/internal/audit/domain"
	"practice-portal/auth/internal/db"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

// Create persists the audit log. The entry must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `INSERT INTO audit_logs
		(id, org_id, user_id, action, resource, ip, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.OrgID, db.NullString(a.UserID), a.Action, a.Resource, a.IP, db.NullString(a.Metadata), a.CreatedAt)
	return err
}

func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string, f Filter) ([]*domain.AuditLog, error) {
	q := `SELECT id, org_id, user_id, action, resource, ip, metadata, created_at FROM audit_logs WHERE org_id = $1`
	args := []any{orgID}
	if f.UserID != "" {
		args = append(args, f.UserID)
		q += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		q += fmt.Sprintf(" AND action = $%d", len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a        domain.AuditLog
			uid, mdt sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.OrgID, &uid, &a.Action, &a.Resource, &a.IP, &mdt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = uid.String
		a.Metadata = mdt.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
