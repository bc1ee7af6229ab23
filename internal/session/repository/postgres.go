package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

const sessionColumns = `id, user_id, org_id, device_id, session_token_hash, refresh_token_hash,
	access_jti, access_expires_at, ip_address, user_agent, active, created_at, expires_at,
	last_seen_at, revoked_at, revoke_reason`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var (
		s                           domain.Session
		device, ip, ua, reason, jti sql.NullString
		accessExp                   sql.NullTime
		lastSeen, revokedAt         sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.OrgID, &device, &s.SessionTokenHash, &s.RefreshTokenHash,
		&jti, &accessExp, &ip, &ua, &s.Active, &s.CreatedAt, &s.ExpiresAt,
		&lastSeen, &revokedAt, &reason)
	if err != nil {
		return nil, err
	}
	s.DeviceID = device.String
	s.AccessJTI = jti.String
	if accessExp.Valid {
		s.AccessExpiresAt = accessExp.Time
	}
	s.IPAddress = ip.String
	s.UserAgent = ua.String
	s.RevokeReason = reason.String
	s.LastSeenAt = db.TimePtr(lastSeen)
	s.RevokedAt = db.TimePtr(revokedAt)
	return &s, nil
}

func scanSessions(rows *sql.Rows) ([]*domain.Session, error) {
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		s.ID, s.UserID, s.OrgID, db.NullString(s.DeviceID), s.SessionTokenHash, s.RefreshTokenHash,
		db.NullString(s.AccessJTI), s.AccessExpiresAt, db.NullString(s.IPAddress), db.NullString(s.UserAgent),
		s.Active, s.CreatedAt, s.ExpiresAt, db.NullTime(s.LastSeenAt), db.NullTime(s.RevokedAt), db.NullString(s.RevokeReason))
	return db.MapError(err)
}

// Get returns the session matching l, or nil if none.
func (r *PostgresRepository) Get(ctx context.Context, l Lookup) (*domain.Session, error) {
	var col, val string
	switch {
	case l.ID != "":
		col, val = "id", l.ID
	case l.SessionTokenHash != "":
		col, val = "session_token_hash", l.SessionTokenHash
	case l.RefreshTokenHash != "":
		col, val = "refresh_token_hash", l.RefreshTokenHash
	default:
		return nil, errors.New("session lookup: no key set")
	}
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+col+` = $1`, val)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// List returns sessions matching f, newest first.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*domain.Session, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.OrgID != "" {
		add("org_id = $%d", f.OrgID)
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	if f.ExpiredBefore != nil {
		add("expires_at <= $%d", *f.ExpiredBefore)
	}
	q := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id, reason string, at time.Time) (*domain.Session, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `UPDATE sessions
		SET active = false, revoked_at = $3, revoke_reason = $2
		WHERE id = $1 AND active
		RETURNING `+sessionColumns, id, reason, at)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (r *PostgresRepository) DeactivateAll(ctx context.Context, userID, exceptID, reason string, at time.Time) ([]*domain.Session, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, `UPDATE sessions
		SET active = false, revoked_at = $4, revoke_reason = $3
		WHERE user_id = $1 AND id <> $2 AND active
		RETURNING `+sessionColumns, userID, exceptID, reason, at)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, `UPDATE sessions
		SET active = false, revoked_at = $1, revoke_reason = $2
		WHERE active AND expires_at <= $1
		RETURNING `+sessionColumns, now, domain.ReasonExpired)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, rot Rotation) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `UPDATE sessions
		SET refresh_token_hash = $3, access_jti = $4, access_expires_at = $5, last_seen_at = $6
		WHERE id = $1 AND refresh_token_hash = $2 AND active AND expires_at > $6`,
		rot.SessionID, rot.OldHash, rot.NewHash, rot.AccessJTI, rot.AccessExpiresAt, rot.Now)
	if err != nil {
		return false, db.MapError(err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
