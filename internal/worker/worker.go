// ABOUTME: Worker poll loop: claim, fetch, run the pipeline, then complete or retry.
// ABOUTME: Failures go through the retry policy on a fresh read of the entry.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dbawebdesign/lailms-sub004/internal/orchestrator"
	"github.com/dbawebdesign/lailms-sub004/internal/store"
)

// ErrStoreUnavailable marks errors from the claim or job fetch call. Run
// waits twice the poll interval after one of these, since they suggest the
// database is unreachable.
var ErrStoreUnavailable = errors.New("store unavailable")

// Config holds the per-Worker settings (sourced from config.Config).
type Config struct {
	WorkerID     string
	PollInterval time.Duration
	// PipelineTimeout bounds each orchestration call. Zero means no deadline.
	PipelineTimeout time.Duration
	Policy          Policy
	Generation      orchestrator.GenerationConfig
}

// Option configures a Worker or Reaper.
type Option func(*options)

type options struct {
	log     *slog.Logger
	metrics *Metrics
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.metrics == nil {
		o.metrics = newUnregisteredMetrics()
	}
	return o
}

// Worker is one poll loop: it claims at most one entry at a time, runs it to
// an outcome, and sleeps PollInterval between iterations.
type Worker struct {
	queue   QueueStore
	jobs    JobStore
	orch    Orchestrator
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	life    *Lifecycle
}

// New creates a Worker. cfg.WorkerID must be stable for the life of the process.
func New(queue QueueStore, jobs JobStore, orch Orchestrator, cfg Config, opts ...Option) *Worker {
	o := buildOptions(opts)
	return &Worker{
		queue:   queue,
		jobs:    jobs,
		orch:    orch,
		cfg:     cfg,
		log:     o.log.With("worker_id", cfg.WorkerID),
		metrics: o.metrics,
		life:    newLifecycle(),
	}
}

// ID returns the worker identity recorded in owner_id.
func (w *Worker) ID() string { return w.cfg.WorkerID }

// Lifecycle exposes the worker's run state.
func (w *Worker) Lifecycle() *Lifecycle { return w.life }

// Stop requests a graceful stop: no new entry is claimed, and Run returns once
// the current iteration has finished.
func (w *Worker) Stop() { w.life.Stop() }

// Run polls the queue until ctx is cancelled or Stop is called. Cancellation
// is observed between iterations only; an entry already claimed is processed
// to completion on a context that ignores the stop. Run returns
// ErrAlreadyStarted if the worker was started before.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.life.start(); err != nil {
		return err
	}
	defer w.life.finish()

	unwatch := context.AfterFunc(ctx, w.life.Stop)
	defer unwatch()
	if ctx.Err() != nil {
		w.life.Stop()
	}

	// Store and pipeline calls must outlive the stop signal.
	workCtx := context.WithoutCancel(ctx)

	w.log.Info("worker started",
		"poll_interval", w.cfg.PollInterval,
		"pipeline_timeout", w.cfg.PipelineTimeout,
		"max_retries", w.cfg.Policy.DefaultMaxRetries)

	for !w.life.stopRequested() {
		err := w.iterate(workCtx)
		if err != nil {
			w.log.Error("worker iteration failed", "error", err)
		}
		if !w.sleep(w.nextWait(err)) {
			break
		}
	}

	w.log.Info("worker stopped")
	return nil
}

// nextWait is the pause after an iteration that returned err. Only store
// unavailability doubles it; failures while recording an outcome leave the
// entry to the reaper and keep the normal cadence.
func (w *Worker) nextWait(err error) time.Duration {
	if errors.Is(err, ErrStoreUnavailable) {
		return 2 * w.cfg.PollInterval
	}
	return w.cfg.PollInterval
}

// sleep waits for d or a stop request. Returns false if stopped.
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.life.Stopping():
		return false
	case <-timer.C:
		return true
	}
}

// iterate runs ProcessNext and turns a panic into an error so one bad entry
// cannot take the loop down. An entry left claimed by a panic is recovered by
// the reaper.
func (w *Worker) iterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during iteration: %v", r)
		}
	}()
	_, err = w.ProcessNext(ctx)
	return err
}

// ProcessNext claims one entry and drives it to an outcome. It reports
// whether an entry was claimed. A non-nil error means the store failed while
// claiming, fetching the job, or recording the outcome; claim and fetch
// errors wrap ErrStoreUnavailable. Pipeline and missing-data failures are
// handled by the retry policy and are not returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	entry, err := w.queue.ClaimNext(ctx, w.cfg.WorkerID)
	if err != nil {
		w.metrics.storeErrors.WithLabelValues("claim").Inc()
		return false, fmt.Errorf("claim next entry: %w: %w", ErrStoreUnavailable, err)
	}
	if entry == nil {
		w.metrics.emptyPolls.Inc()
		return false, nil
	}
	w.metrics.claims.Inc()
	return true, w.process(ctx, entry)
}

func (w *Worker) process(ctx context.Context, entry *store.Entry) error {
	log := w.log.With("entry_id", entry.ID, "job_id", entry.JobID, "retry_count", entry.RetryCount)
	log.Info("claimed queue entry")

	job, err := w.jobs.GetJob(ctx, entry.JobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return w.handleFailure(ctx, log, entry, fmt.Errorf("job %s not found", entry.JobID))
	case err != nil:
		// A read failure says nothing about the job: keep the retry budget and
		// leave the entry claimed for the reaper.
		w.metrics.storeErrors.WithLabelValues("get_job").Inc()
		return fmt.Errorf("fetch job: %w: %w", ErrStoreUnavailable, err)
	}

	if job.Status.Terminal() {
		// A previous owner got as far as the job write; only retirement is left.
		log.Info("job already terminal, retiring entry", "job_status", job.Status)
		if err := w.queue.MarkComplete(ctx, entry.ID); err != nil {
			w.metrics.storeErrors.WithLabelValues("mark_complete").Inc()
			return fmt.Errorf("retire entry for terminal job: %w", err)
		}
		w.metrics.processed.WithLabelValues(outcomeSkipped).Inc()
		return nil
	}

	if job.Outline == nil {
		return w.handleFailure(ctx, log, entry, fmt.Errorf("job %s has no course outline", job.ID))
	}

	if err := w.runPipeline(ctx, job); err != nil {
		return w.handleFailure(ctx, log, entry, err)
	}

	if err := w.queue.MarkComplete(ctx, entry.ID); err != nil {
		w.metrics.storeErrors.WithLabelValues("mark_complete").Inc()
		return fmt.Errorf("mark entry complete: %w", err)
	}
	w.metrics.processed.WithLabelValues(outcomeCompleted).Inc()
	log.Info("generation job completed")
	return nil
}

// runPipeline calls the orchestrator under the configured deadline. Panics
// and deadline expiry are reported as ordinary failures.
func (w *Worker) runPipeline(ctx context.Context, job *store.Job) (err error) {
	if w.cfg.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.PipelineTimeout)
		defer cancel()
	}

	w.metrics.inFlight.Inc()
	start := time.Now()
	defer func() {
		w.metrics.inFlight.Dec()
		w.metrics.pipelineDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	err = w.orch.StartOrchestration(ctx, job.ID, *job.Outline, w.cfg.Generation)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("pipeline timed out after %s: %w", w.cfg.PipelineTimeout, err)
	}
	return err
}

// handleFailure applies the retry policy to entry after cause. The decision
// is made on a fresh read of the entry, never on the claimed copy.
func (w *Worker) handleFailure(ctx context.Context, log *slog.Logger, entry *store.Entry, cause error) error {
	current, err := w.queue.GetEntry(ctx, entry.ID)
	if err != nil {
		w.metrics.storeErrors.WithLabelValues("get_entry").Inc()
		return fmt.Errorf("re-read entry after failure (%v): %w", cause, err)
	}
	if current.Status != store.EntryClaimed || current.OwnerID != w.cfg.WorkerID {
		log.Warn("entry no longer held by this worker, leaving it to its current owner",
			"error", cause, "status", current.Status, "owner_id", current.OwnerID)
		return nil
	}

	decision := w.cfg.Policy.Decide(current)
	log = log.With("max_retries", w.cfg.Policy.MaxRetries(current))

	if decision == Retry {
		delay := w.cfg.Policy.Delay(current.RetryCount)
		if err := w.queue.ReleaseForRetry(ctx, current.ID, delay, cause.Error()); err != nil {
			if errors.Is(err, store.ErrNotClaimed) {
				log.Warn("entry reclaimed before release", "error", cause)
				return nil
			}
			w.metrics.storeErrors.WithLabelValues("release").Inc()
			return fmt.Errorf("release entry for retry: %w", err)
		}
		w.metrics.processed.WithLabelValues(outcomeRetried).Inc()
		log.Warn("generation job failed, released for retry", "error", cause, "retry_delay", delay)
		return nil
	}

	// The job write must land before the entry is retired: if we crash in
	// between, the next claimant sees a failed job and only retires the entry.
	failedAt := time.Now().UTC()
	if err := w.jobs.UpdateJobStatus(ctx, current.JobID, store.JobFailed, cause.Error(), &failedAt); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			w.metrics.storeErrors.WithLabelValues("update_job").Inc()
			return fmt.Errorf("mark job failed: %w", err)
		}
		log.Warn("job record missing, retiring entry without status write")
	}
	if err := w.queue.MarkComplete(ctx, current.ID); err != nil {
		w.metrics.storeErrors.WithLabelValues("mark_complete").Inc()
		return fmt.Errorf("retire failed entry: %w", err)
	}
	w.metrics.processed.WithLabelValues(outcomeFailed).Inc()
	log.Error("generation job failed permanently", "error", cause)
	return nil
}
