// ABOUTME: Reaper returns entries claimed longer than the stale threshold to pending.
// ABOUTME: Reaping never increments retry_count.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StaleReaper is the queue operation the Reaper needs.
type StaleReaper interface {
	ReapStale(ctx context.Context, threshold time.Duration) (int, error)
}

// Reaper periodically returns entries claimed longer than Threshold ago to
// pending. A crashed worker leaves no heartbeat, so claim age is the only
// liveness signal. Reaped entries keep their retry_count.
type Reaper struct {
	store     StaleReaper
	interval  time.Duration
	threshold time.Duration
	log       *slog.Logger
	metrics   *Metrics
}

// NewReaper creates a Reaper that checks every interval for claims older than
// threshold.
func NewReaper(s StaleReaper, interval, threshold time.Duration, opts ...Option) *Reaper {
	o := buildOptions(opts)
	return &Reaper{
		store:     s,
		interval:  interval,
		threshold: threshold,
		log:       o.log,
		metrics:   o.metrics,
	}
}

// Run reaps on every tick until ctx is cancelled. Uses time.NewTicker
// (not time.After) to avoid timer leaks.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("stale reaper started",
		"threshold", r.threshold, "check_interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.log.Info("stale reaper stopping")
			return nil
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil {
				r.log.Error("stale entry recovery error", "error", err)
			}
		}
	}
}

// ReapOnce runs a single reap pass and returns the number of entries reclaimed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	n, err := r.store.ReapStale(ctx, r.threshold)
	if err != nil {
		r.metrics.storeErrors.WithLabelValues("reap_stale").Inc()
		return 0, fmt.Errorf("reap stale entries: %w", err)
	}
	if n > 0 {
		r.metrics.reaped.Add(float64(n))
		r.log.Warn("reclaimed stale queue entries", "count", n, "threshold", r.threshold)
	}
	return n, nil
}
