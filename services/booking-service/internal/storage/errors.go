package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrAlreadyApplied means the external transaction id is already in the
// processed-payments ledger. Treated as success-no-op by callers.
var ErrAlreadyApplied = errors.New("payment already applied")

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsConflict matches the exclusion-constraint violation raised when two
// blocking appointments would overlap, and unique violations.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23P01" || pgErr.Code == "23505"
}
