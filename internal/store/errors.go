// ABOUTME: Sentinel errors returned by the store and pg error classification.
// ABOUTME: Callers match ErrNotFound and ErrNotClaimed with errors.Is.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a queue entry or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotClaimed is returned by ReleaseForRetry when the entry is no longer
	// claimed, e.g. the stale reaper already returned it to pending.
	ErrNotClaimed = errors.New("queue entry is not claimed")
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isForeignKeyViolation reports a PostgreSQL foreign_key_violation (23503).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
