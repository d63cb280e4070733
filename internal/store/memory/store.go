// Package memory is an in-process implementation of the queue and job store
// operations the worker consumes. Safe for concurrent access. Intended for
// unit tests and local development without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms-sub004/internal/store"
)

// Store holds queue entries and jobs behind a single mutex, which makes every
// operation atomic with respect to concurrent callers.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[uuid.UUID]*store.Entry
	jobs    map[uuid.UUID]*store.Job
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (stale-claim tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		entries: make(map[uuid.UUID]*store.Entry),
		jobs:    make(map[uuid.UUID]*store.Job),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ── Jobs ──────────────────────────────────────────────────────────────────────

// PutJob inserts or replaces a job. The stored value is a copy.
func (s *Store) PutJob(j store.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = copyJob(&j)
}

// GetJob returns a copy of the job, or store.ErrNotFound.
func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*store.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

// UpdateJobStatus sets status, error message and failure time on a job.
func (s *Store) UpdateJobStatus(_ context.Context, id uuid.UUID, status store.JobStatus, errMsg string, failedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = status
	j.ErrorMessage = errMsg
	j.FailedAt = copyTime(failedAt)
	j.UpdatedAt = s.now()
	return nil
}

// ── Queue ─────────────────────────────────────────────────────────────────────

// Enqueue adds a pending entry for jobID.
func (s *Store) Enqueue(_ context.Context, jobID uuid.UUID, maxRetries *int) (*store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, store.ErrNotFound
	}
	now := s.now()
	e := &store.Entry{
		ID:          uuid.New(),
		JobID:       jobID,
		Status:      store.EntryPending,
		AvailableAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if maxRetries != nil {
		m := *maxRetries
		e.MaxRetries = &m
	}
	s.entries[e.ID] = e
	return copyEntry(e), nil
}

// ClaimNext claims the oldest claimable pending entry for workerID.
// Returns (nil, nil) when none is available.
func (s *Store) ClaimNext(_ context.Context, workerID string) (*store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidates []*store.Entry
	for _, e := range s.entries {
		if e.Status == store.EntryPending && !e.AvailableAt.After(now) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].AvailableAt.Equal(candidates[k].AvailableAt) {
			return candidates[i].AvailableAt.Before(candidates[k].AvailableAt)
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	e := candidates[0]
	e.Status = store.EntryClaimed
	e.OwnerID = workerID
	e.ClaimedAt = &now
	e.UpdatedAt = now
	return copyEntry(e), nil
}

// GetEntry returns a copy of the entry, or store.ErrNotFound.
func (s *Store) GetEntry(_ context.Context, id uuid.UUID) (*store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyEntry(e), nil
}

// MarkComplete retires an entry. Already-done or unknown entries are a no-op.
func (s *Store) MarkComplete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Status == store.EntryDone {
		return nil
	}
	e.Status = store.EntryDone
	e.UpdatedAt = s.now()
	return nil
}

// ReleaseForRetry returns a claimed entry to pending with retry_count+1.
func (s *Store) ReleaseForRetry(_ context.Context, id uuid.UUID, delay time.Duration, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.Status != store.EntryClaimed {
		return store.ErrNotClaimed
	}
	now := s.now()
	e.Status = store.EntryPending
	e.OwnerID = ""
	e.ClaimedAt = nil
	e.RetryCount++
	e.AvailableAt = now.Add(delay)
	e.LastError = lastErr
	e.UpdatedAt = now
	return nil
}

// ReapStale returns claims older than threshold to pending without touching
// retry_count.
func (s *Store) ReapStale(_ context.Context, threshold time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	cutoff := now.Add(-threshold)
	n := 0
	for _, e := range s.entries {
		if e.Status != store.EntryClaimed || e.ClaimedAt == nil || !e.ClaimedAt.Before(cutoff) {
			continue
		}
		e.Status = store.EntryPending
		e.OwnerID = ""
		e.ClaimedAt = nil
		e.UpdatedAt = now
		n++
	}
	return n, nil
}

// ListEntries returns entries matching f, newest first.
func (s *Store) ListEntries(_ context.Context, f store.EntryFilter) ([]store.Entry, error) {
	all := s.Entries()
	out := make([]store.Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.JobID != uuid.Nil && e.JobID != f.JobID {
			continue
		}
		if f.OwnerID != "" && e.OwnerID != f.OwnerID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// QueueStats counts entries per status. Every status is present.
func (s *Store) QueueStats(_ context.Context) (map[store.EntryStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[store.EntryStatus]int{store.EntryPending: 0, store.EntryClaimed: 0, store.EntryDone: 0}
	for _, e := range s.entries {
		stats[e.Status]++
	}
	return stats, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Entries returns copies of all entries, oldest first.
func (s *Store) Entries() []store.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *copyEntry(e))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

func copyEntry(e *store.Entry) *store.Entry {
	cp := *e
	cp.ClaimedAt = copyTime(e.ClaimedAt)
	if e.MaxRetries != nil {
		m := *e.MaxRetries
		cp.MaxRetries = &m
	}
	return &cp
}

func copyJob(j *store.Job) *store.Job {
	cp := *j
	cp.FailedAt = copyTime(j.FailedAt)
	if j.Outline != nil {
		o := *j.Outline
		o.Content = append([]byte(nil), j.Outline.Content...)
		cp.Outline = &o
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
