package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"practice-portal/auth/internal/db"
	"practice-portal/auth/internal/user/domain"
)

var userCols = []string{"id", "org_id", "email", "name", "password_hash", "active", "email_verified_at",
	"failed_login_count", "locked_until", "two_factor_enabled", "two_factor_secret",
	"password_changed_at", "created_at", "updated_at"}

func newMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return NewPostgresRepository(sqlDB), mock
}

func TestPostgres_GetByEmail(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("SELECT .+ FROM users WHERE org_id = \\$1 AND email = \\$2").
		WithArgs("org-1", "dr@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"u1", "org-1", "dr@example.com", "Dr Who", "hash", true, now,
			2, nil, true, "SECRET", nil, now, now))

	u, err := repo.GetByEmail(context.Background(), "org-1", "dr@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if u == nil || u.ID != "u1" || u.Name != "Dr Who" || u.FailedLoginCount != 2 || !u.TwoFactorEnabled || u.TwoFactorSecret != "SECRET" {
		t.Fatalf("user = %+v", u)
	}
	if u.EmailVerifiedAt == nil || u.LockedUntil != nil {
		t.Errorf("nullable fields: verified=%v locked=%v", u.EmailVerifiedAt, u.LockedUntil)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgres_GetByID_NotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("SELECT .+ FROM users WHERE id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	u, err := repo.GetByID(context.Background(), "missing")
	if err != nil || u != nil {
		t.Fatalf("GetByID missing: want (nil, nil), got (%v, %v)", u, err)
	}
}

func TestPostgres_Create_Conflict(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("INSERT INTO users").WillReturnError(&pgconn.PgError{Code: "23505"})
	now := time.Now()
	err := repo.Create(context.Background(), &domain.User{ID: "u1", Email: "a@b.co", PasswordHash: "h", CreatedAt: now, UpdatedAt: now})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("Create duplicate: want ErrConflict, got %v", err)
	}
}

func TestPostgres_RecordLoginFailure(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()
	p := LockoutPolicy{Threshold: 5, Duration: 15 * time.Minute}
	mock.ExpectQuery("UPDATE users SET .+ RETURNING locked_until = \\$3").
		WithArgs("u1", 5, now.Add(15*time.Minute), now).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))

	locked, err := repo.RecordLoginFailure(context.Background(), "u1", p, now)
	if err != nil {
		t.Fatalf("RecordLoginFailure: %v", err)
	}
	if !locked {
		t.Error("locked = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestPostgres_ConsumeRecoveryCode(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now()
	mock.ExpectExec("UPDATE user_recovery_codes SET used_at").
		WithArgs("u1", "h1", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE user_recovery_codes SET used_at").
		WithArgs("u1", "h1", now).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ConsumeRecoveryCode(context.Background(), "u1", "h1", now)
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = repo.ConsumeRecoveryCode(context.Background(), "u1", "h1", now)
	if err != nil || ok {
		t.Fatalf("second consume: ok=%v err=%v", ok, err)
	}
}

func TestPostgres_ReplaceRecoveryCodes_InTx(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer sqlDB.Close()
	repo := NewPostgresRepository(sqlDB)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM user_recovery_codes").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO user_recovery_codes").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO user_recovery_codes").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = db.NewSQLTransactor(sqlDB).WithinTx(context.Background(), func(ctx context.Context) error {
		return repo.ReplaceRecoveryCodes(ctx, "u1", []string{"a", "b"}, time.Now())
	})
	if err != nil {
		t.Fatalf("ReplaceRecoveryCodes: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}
