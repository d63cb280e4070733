// ABOUTME: Retry policy: retry while retry_count < max_retries, else fail.
// ABOUTME: Delay computes the optional exponential release delay.
package worker

import (
	"time"

	"github.com/dbawebdesign/lailms-sub004/internal/store"
)

// Decision is the outcome of applying the retry policy to a failed entry.
type Decision int

const (
	// Retry returns the entry to the queue with retry_count+1.
	Retry Decision = iota + 1
	// Fail marks the job failed and retires the entry.
	Fail
)

func (d Decision) String() string {
	switch d {
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Policy decides between retry and terminal failure, and how long a retried
// entry stays hidden from claimers.
type Policy struct {
	// DefaultMaxRetries applies to entries without their own max_retries.
	DefaultMaxRetries int
	// BackoffBase is the release delay before the first retry. Zero makes
	// released entries claimable immediately.
	BackoffBase time.Duration
	// BackoffMax caps the release delay. Zero means uncapped.
	BackoffMax time.Duration
}

// MaxRetries returns the retry ceiling for e.
func (p Policy) MaxRetries(e *store.Entry) int {
	if e.MaxRetries != nil {
		return *e.MaxRetries
	}
	return p.DefaultMaxRetries
}

// Decide returns Retry iff e.RetryCount is below the ceiling.
func (p Policy) Decide(e *store.Entry) Decision {
	if e.RetryCount < p.MaxRetries(e) {
		return Retry
	}
	return Fail
}

// Delay returns BackoffBase * 2^retryCount, capped at BackoffMax.
func (p Policy) Delay(retryCount int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	d := p.BackoffBase
	for range retryCount {
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			break
		}
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
