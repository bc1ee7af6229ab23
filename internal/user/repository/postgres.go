package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/ids"
	"practice-portal/auth/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(sqlDB *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: sqlDB}
}

const userColumns = `id, org_id, email, name, password_hash, active, email_verified_at,
	failed_login_count, locked_until, two_factor_enabled, two_factor_secret,
	password_changed_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var (
		u                                  domain.User
		name, secret                       sql.NullString
		verifiedAt, lockedUntil, changedAt sql.NullTime
	)
	err := row.Scan(&u.ID, &u.OrgID, &u.Email, &name, &u.PasswordHash, &u.Active, &verifiedAt,
		&u.FailedLoginCount, &lockedUntil, &u.TwoFactorEnabled, &secret,
		&changedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	u.TwoFactorSecret = secret.String
	u.EmailVerifiedAt = db.TimePtr(verifiedAt)
	u.LockedUntil = db.TimePtr(lockedUntil)
	u.PasswordChangedAt = db.TimePtr(changedAt)
	return &u, nil
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// GetByEmail returns the user with the given email in orgID, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, orgID, email string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE org_id = $1 AND email = $2`, orgID, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		u.ID, u.OrgID, u.Email, db.NullString(u.Name), u.PasswordHash, u.Active, db.NullTime(u.EmailVerifiedAt),
		u.FailedLoginCount, db.NullTime(u.LockedUntil), u.TwoFactorEnabled, db.NullString(u.TwoFactorSecret),
		db.NullTime(u.PasswordChangedAt), u.CreatedAt, u.UpdatedAt)
	return db.MapError(err)
}

// Update writes name, active, email verification and 2FA fields.
func (r *PostgresRepository) Update(ctx context.Context, u *domain.User) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `UPDATE users SET
		name = $2, active = $3, email_verified_at = $4, two_factor_enabled = $5,
		two_factor_secret = $6, updated_at = $7
		WHERE id = $1`,
		u.ID, db.NullString(u.Name), u.Active, db.NullTime(u.EmailVerifiedAt), u.TwoFactorEnabled,
		db.NullString(u.TwoFactorSecret), u.UpdatedAt)
	return err
}

// SetPassword replaces the password hash and clears any lockout.
func (r *PostgresRepository) SetPassword(ctx context.Context, userID, hash string, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `UPDATE users SET
		password_hash = $2, password_changed_at = $3, failed_login_count = 0, locked_until = NULL, updated_at = $3
		WHERE id = $1`, userID, hash, at)
	return err
}

// RecordLoginFailure increments the counter in a single statement so
// concurrent failures cannot skip the threshold.
func (r *PostgresRepository) RecordLoginFailure(ctx context.Context, userID string, p LockoutPolicy, now time.Time) (bool, error) {
	lockUntil := now.Add(p.Duration)
	var locked sql.NullBool
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `UPDATE users SET
		locked_until = CASE WHEN failed_login_count + 1 >= $2 THEN $3 ELSE locked_until END,
		failed_login_count = CASE WHEN failed_login_count + 1 >= $2 THEN 0 ELSE failed_login_count + 1 END,
		updated_at = $4
		WHERE id = $1
		RETURNING locked_until = $3`, userID, p.Threshold, lockUntil, now).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return locked.Valid && locked.Bool, nil
}

// ResetLoginFailures clears the failure counter after a successful login.
func (r *PostgresRepository) ResetLoginFailures(ctx context.Context, userID string, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET failed_login_count = 0, updated_at = $2 WHERE id = $1 AND failed_login_count <> 0`, userID, at)
	return err
}

func (r *PostgresRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, hashes []string, at time.Time) error {
	conn := db.Conn(ctx, r.db)
	if _, err := conn.ExecContext(ctx, `DELETE FROM user_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, h := range hashes {
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO user_recovery_codes (id, user_id, code_hash, created_at) VALUES ($1, $2, $3, $4)`,
			ids.NewID(), userID, h, at); err != nil {
			return db.MapError(err)
		}
	}
	return nil
}

func (r *PostgresRepository) ConsumeRecoveryCode(ctx context.Context, userID, hash string, at time.Time) (bool, error) {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE user_recovery_codes SET used_at = $3 WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		userID, hash, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) DeleteRecoveryCodes(ctx context.Context, userID string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM user_recovery_codes WHERE user_id = $1`, userID)
	return err
}
