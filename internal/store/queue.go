// ABOUTME: generation_queue operations: atomic claim, complete, release, reap.
// ABOUTME: Also enqueue, filtered listing (squirrel) and per-status counts.
package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EntryStatus is the claim state of a generation_queue row.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntryClaimed EntryStatus = "claimed"
	EntryDone    EntryStatus = "done"
)

// Entry is one generation_queue row: a claimable unit of work pointing at a job.
type Entry struct {
	ID          uuid.UUID   `json:"entry_id"`
	JobID       uuid.UUID   `json:"job_id"`
	Status      EntryStatus `json:"status"`
	OwnerID     string      `json:"owner_id,omitempty"` // empty unless claimed
	RetryCount  int         `json:"retry_count"`
	MaxRetries  *int        `json:"max_retries,omitempty"` // nil means the process default applies
	ClaimedAt   *time.Time  `json:"claimed_at,omitempty"`
	AvailableAt time.Time   `json:"available_at"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

const entryColumns = `entry_id, job_id, status, owner_id, retry_count, max_retries,
	claimed_at, available_at, last_error, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e              Entry
		owner, lastErr *string
	)
	if err := row.Scan(
		&e.ID, &e.JobID, &e.Status, &owner, &e.RetryCount, &e.MaxRetries,
		&e.ClaimedAt, &e.AvailableAt, &lastErr, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if owner != nil {
		e.OwnerID = *owner
	}
	if lastErr != nil {
		e.LastError = *lastErr
	}
	return &e, nil
}

// claimNextSQL marks the oldest claimable pending entry as claimed by $1 in a
// single statement. SKIP LOCKED keeps concurrent claimers from blocking on,
// or double-claiming, the same row.
const claimNextSQL = `
UPDATE generation_queue
SET status = 'claimed', owner_id = $1, claimed_at = now(), updated_at = now()
WHERE entry_id = (
    SELECT entry_id FROM generation_queue
    WHERE status = 'pending' AND available_at <= now()
    ORDER BY available_at, created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING ` + entryColumns

// ClaimNext atomically claims one pending entry for workerID. Returns
// (nil, nil) when no entry is currently claimable.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*Entry, error) {
	var entry *Entry
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = scanEntry(tx.QueryRow(ctx, claimNextSQL, workerID))
		return err
	})
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next entry: %w", err)
	}
	return entry, nil
}

// GetEntry returns the current state of an entry, or ErrNotFound.
func (s *Store) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	var entry *Entry
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = scanEntry(tx.QueryRow(ctx,
			`SELECT `+entryColumns+` FROM generation_queue WHERE entry_id = $1`, id))
		return err
	})
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return entry, nil
}

// MarkComplete retires an entry. Retiring an entry that is already done, or
// that no longer exists, is a no-op.
func (s *Store) MarkComplete(ctx context.Context, id uuid.UUID) error {
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE generation_queue
			SET status = 'done', updated_at = now()
			WHERE entry_id = $1 AND status <> 'done'`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark entry %s complete: %w", id, err)
	}
	return nil
}

// ReleaseForRetry returns a claimed entry to pending, increments retry_count,
// clears the owner and records lastErr. The entry becomes claimable again
// after delay. Returns ErrNotClaimed if the entry is not currently claimed.
func (s *Store) ReleaseForRetry(ctx context.Context, id uuid.UUID, delay time.Duration, lastErr string) error {
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE generation_queue
			SET status       = 'pending',
			    owner_id     = NULL,
			    claimed_at   = NULL,
			    retry_count  = retry_count + 1,
			    available_at = now() + make_interval(secs => $2::float8),
			    last_error   = NULLIF($3, ''),
			    updated_at   = now()
			WHERE entry_id = $1 AND status = 'claimed'`,
			id, delay.Seconds(), lastErr)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotClaimed
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("release entry %s for retry: %w", id, err)
	}
	return nil
}

// ReapStale returns claimed entries whose claim is older than threshold to
// pending and clears their owner. retry_count is left untouched. Returns the
// number of entries reclaimed.
func (s *Store) ReapStale(ctx context.Context, threshold time.Duration) (int, error) {
	var n int64
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE generation_queue
			SET status = 'pending', owner_id = NULL, claimed_at = NULL, updated_at = now()
			WHERE status = 'claimed'
			  AND claimed_at < now() - make_interval(secs => $1::float8)`,
			threshold.Seconds())
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reap stale entries: %w", err)
	}
	return int(n), nil
}

// Enqueue inserts a pending entry for jobID. maxRetries overrides the
// process default when non-nil. Returns ErrNotFound if the job does not exist.
func (s *Store) Enqueue(ctx context.Context, jobID uuid.UUID, maxRetries *int) (*Entry, error) {
	var entry *Entry
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = scanEntry(tx.QueryRow(ctx, `
			INSERT INTO generation_queue (job_id, max_retries)
			VALUES ($1, $2)
			RETURNING `+entryColumns, jobID, maxRetries))
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("enqueue job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return entry, nil
}

// EntryFilter narrows ListEntries. Zero-valued fields are ignored.
type EntryFilter struct {
	Status  EntryStatus
	JobID   uuid.UUID
	OwnerID string
	Limit   int
}

// ListEntries returns entries matching f, newest first.
func (s *Store) ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error) {
	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sb := psql.
		Select(entryColumns).
		From("generation_queue").
		OrderBy("created_at DESC, entry_id DESC")

	if f.Status != "" {
		sb = sb.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.JobID != uuid.Nil {
		sb = sb.Where(sq.Eq{"job_id": f.JobID})
	}
	if f.OwnerID != "" {
		sb = sb.Where(sq.Eq{"owner_id": f.OwnerID})
	}
	if f.Limit > 0 {
		sb = sb.Limit(uint64(f.Limit)) //nolint:gosec // G115: positive by check above
	}

	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list entries: build query: %w", err)
	}

	var result []Entry
	err = s.WorkerTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			result = append(result, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return result, nil
}

// QueueStats counts entries per status. Statuses with no rows report zero.
func (s *Store) QueueStats(ctx context.Context) (map[EntryStatus]int, error) {
	stats := map[EntryStatus]int{EntryPending: 0, EntryClaimed: 0, EntryDone: 0}
	err := s.WorkerTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT status, count(*) FROM generation_queue GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				status EntryStatus
				n      int
			)
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			stats[status] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return stats, nil
}
