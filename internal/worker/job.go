// Package worker claims course generation jobs from the generation_queue
// table and drives each one through the orchestration pipeline.
//
// A Worker processes one entry at a time; run several Workers for
// parallelism. The Reaper returns entries abandoned by dead workers to the
// queue. Pool wires a set of Workers and a Reaper into one process.
package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dbawebdesign/lailms-sub004/internal/orchestrator"
	"github.com/dbawebdesign/lailms-sub004/internal/store"
)

// QueueStore is the set of atomic queue operations the worker relies on.
// Implementations must make ClaimNext, MarkComplete and ReleaseForRetry
// atomic with respect to concurrent callers.
type QueueStore interface {
	ClaimNext(ctx context.Context, workerID string) (*store.Entry, error)
	GetEntry(ctx context.Context, id uuid.UUID) (*store.Entry, error)
	MarkComplete(ctx context.Context, id uuid.UUID) error
	ReleaseForRetry(ctx context.Context, id uuid.UUID, delay time.Duration, lastErr string) error
	ReapStale(ctx context.Context, threshold time.Duration) (int, error)
}

// JobStore reads and writes course generation job records.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status store.JobStatus, errMsg string, failedAt *time.Time) error
}

// Store is satisfied by *store.Store and *memory.Store.
type Store interface {
	QueueStore
	JobStore
}

// Orchestrator runs the generation pipeline for one job. A nil return means
// the pipeline finished; it is responsible for marking the job completed.
type Orchestrator interface {
	StartOrchestration(ctx context.Context, jobID uuid.UUID, outline store.Outline, cfg orchestrator.GenerationConfig) error
}

// OrchestratorFunc adapts a function to Orchestrator.
type OrchestratorFunc func(ctx context.Context, jobID uuid.UUID, outline store.Outline, cfg orchestrator.GenerationConfig) error

// StartOrchestration calls f.
func (f OrchestratorFunc) StartOrchestration(ctx context.Context, jobID uuid.UUID, outline store.Outline, cfg orchestrator.GenerationConfig) error {
	return f(ctx, jobID, outline, cfg)
}

var (
	_ Store        = (*store.Store)(nil)
	_ Orchestrator = (*orchestrator.Client)(nil)
)
