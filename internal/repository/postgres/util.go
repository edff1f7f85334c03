package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	ErrNotFound   = domainauth.ErrNotFound
	ErrConflict   = errors.New("conflict")
	ErrConstraint = errors.New("constraint violation")
)

// mapErr translates driver errors into repository sentinels.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%s: %w", op, ErrConflict)
		case pgErrForeignKeyViolation:
			// a dangling reference reads as a missing row to callers
			return fmt.Errorf("%s: %w: %w", op, ErrConstraint, ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
