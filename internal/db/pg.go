package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	// ErrConflict is returned by repositories when a unique constraint rejects a write.
	ErrConflict = errors.New("db: unique constraint violated")
	// ErrReference is returned when a foreign key target does not exist.
	ErrReference = errors.New("db: referenced row does not exist")
)

// MapError converts Postgres constraint violations into ErrConflict and
// ErrReference. Other errors are returned unchanged.
func MapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return ErrConflict
		case pgErrForeignKeyViolation:
			return ErrReference
		}
	}
	return err
}

// NullTime converts an optional time to sql.NullTime.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// TimePtr converts sql.NullTime to an optional time in UTC.
func TimePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

// NullString returns an invalid NullString for "".
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
