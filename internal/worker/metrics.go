// ABOUTME: Prometheus collectors shared by workers and the stale reaper.
// ABOUTME: Registered on the caller's registry via promauto.With.
package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the entries_processed_total counter.
const (
	outcomeCompleted = "completed"
	outcomeRetried   = "retried"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped" // job already terminal when claimed
)

// Metrics are the Prometheus collectors shared by Workers and the Reaper.
type Metrics struct {
	claims           prometheus.Counter
	emptyPolls       prometheus.Counter
	processed        *prometheus.CounterVec
	pipelineDuration prometheus.Histogram
	storeErrors      *prometheus.CounterVec
	reaped           prometheus.Counter
	inFlight         prometheus.Gauge
}

// NewMetrics registers the worker collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		claims: f.NewCounter(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "queue_claims_total",
			Help:      "Queue entries claimed by this process.",
		}),
		emptyPolls: f.NewCounter(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "queue_empty_polls_total",
			Help:      "Claim attempts that found no claimable entry.",
		}),
		processed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "entries_processed_total",
			Help:      "Claimed entries by outcome.",
		}, []string{"outcome"}),
		pipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "coursegen",
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of orchestration pipeline calls.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800},
		}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "store_errors_total",
			Help:      "Queue or job store operations that returned an error.",
		}, []string{"op"}),
		reaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "coursegen",
			Name:      "stale_entries_reaped_total",
			Help:      "Claimed entries returned to pending by the stale reaper.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "coursegen",
			Name:      "jobs_in_flight",
			Help:      "Pipeline calls currently running in this process.",
		}),
	}
}

// newUnregisteredMetrics backs components constructed without WithMetrics.
func newUnregisteredMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
