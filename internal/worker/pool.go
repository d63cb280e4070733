// ABOUTME: Pool runs N Workers and the stale Reaper under one errgroup.
// ABOUTME: Cancelling the context drains in-flight jobs before Start returns.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// PoolConfig describes the workers and reaper one process runs.
type PoolConfig struct {
	Worker Config
	// Concurrency is the number of independent poll loops. Each gets its own
	// worker id, derived from Worker.WorkerID when Concurrency > 1.
	Concurrency int

	ReaperEnabled      bool
	StaleCheckInterval time.Duration
	StaleThreshold     time.Duration
}

// Pool runs a set of Workers and, optionally, the stale Reaper in one process.
type Pool struct {
	workers []*Worker
	reaper  *Reaper
	log     *slog.Logger
}

// NewPool creates the workers and reaper described by cfg.
func NewPool(s Store, orch Orchestrator, cfg PoolConfig, opts ...Option) *Pool {
	n := cfg.Concurrency
	if n < 1 {
		n = 1
	}
	// Share one set of collectors between all loops.
	o := buildOptions(opts)
	shared := []Option{WithLogger(o.log), WithMetrics(o.metrics)}

	p := &Pool{log: o.log}
	for i := range n {
		wc := cfg.Worker
		if n > 1 {
			wc.WorkerID = fmt.Sprintf("%s-%d", cfg.Worker.WorkerID, i+1)
		}
		p.workers = append(p.workers, New(s, s, orch, wc, shared...))
	}
	if cfg.ReaperEnabled {
		p.reaper = NewReaper(s, cfg.StaleCheckInterval, cfg.StaleThreshold, shared...)
	}
	return p
}

// Workers returns the pool's poll loops.
func (p *Pool) Workers() []*Worker { return p.workers }

// Start launches every worker plus the reaper, then blocks until ctx is
// cancelled. When ctx is cancelled, workers stop claiming, any in-flight job
// completes, and Start returns after all goroutines have exited.
func (p *Pool) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range p.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	if p.reaper != nil {
		g.Go(func() error { return p.reaper.Run(gctx) })
	}

	err := g.Wait()
	p.log.Info("worker pool stopped", "workers", len(p.workers))
	return err
}
