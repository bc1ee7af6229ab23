package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/verification/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a verification token repository backed by sqlDB.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

const tokenColumns = `id, user_id, type, token_hash, subject, expires_at, used_at, invalidated_at,
	attempts, max_attempts, created_at`

func scanToken(row interface{ Scan(...any) error }) (*domain.Token, error) {
	var (
		t                     domain.Token
		typ                   string
		subject               sql.NullString
		usedAt, invalidatedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.UserID, &typ, &t.TokenHash, &subject, &t.ExpiresAt, &usedAt, &invalidatedAt,
		&t.Attempts, &t.MaxAttempts, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = domain.TokenType(typ)
	t.Subject = subject.String
	t.UsedAt = db.TimePtr(usedAt)
	t.InvalidatedAt = db.TimePtr(invalidatedAt)
	return &t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, t *domain.Token) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `INSERT INTO verification_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.UserID, string(t.Type), t.TokenHash, db.NullString(t.Subject), t.ExpiresAt,
		db.NullTime(t.UsedAt), db.NullTime(t.InvalidatedAt), t.Attempts, t.MaxAttempts, t.CreatedAt)
	return db.MapError(err)
}

// Find returns the token matching q.ID or q.TokenHash, narrowed by q.Type when set.
func (r *PostgresRepository) Find(ctx context.Context, q Query) (*domain.Token, error) {
	var (
		cond string
		args []any
	)
	switch {
	case q.ID != "":
		cond, args = "id = $1", []any{q.ID}
	case q.TokenHash != "":
		cond, args = "token_hash = $1", []any{q.TokenHash}
	default:
		return nil, errors.New("verification token lookup: no key set")
	}
	if q.Type != "" {
		args = append(args, string(q.Type))
		cond += " AND type = $2"
	}
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM verification_tokens WHERE `+cond, args...)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// List returns the tokens of q.UserID, newest first.
func (r *PostgresRepository) List(ctx context.Context, q Query) ([]*domain.Token, error) {
	if q.UserID == "" {
		return nil, errors.New("verification token list: user id required")
	}
	where := []string{"user_id = $1"}
	args := []any{q.UserID}
	if q.Type != "" {
		args = append(args, string(q.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if q.UsableAt != nil {
		args = append(args, *q.UsableAt)
		where = append(where, fmt.Sprintf("used_at IS NULL AND invalidated_at IS NULL AND expires_at > $%d AND attempts < max_attempts", len(args)))
	}
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, `SELECT `+tokenColumns+` FROM verification_tokens
		WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE verification_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) InvalidateAll(ctx context.Context, userID string, tokenType domain.TokenType, at time.Time) (int64, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `UPDATE verification_tokens SET invalidated_at = $3
		WHERE user_id = $1 AND type = $2 AND used_at IS NULL AND invalidated_at IS NULL`,
		userID, string(tokenType), at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var n int
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE verification_tokens SET attempts = attempts + 1 WHERE id = $1 RETURNING attempts`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) DeleteUsedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM verification_tokens
		WHERE used_at < $1 OR invalidated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
