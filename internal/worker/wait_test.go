// ABOUTME: Tests for the pause chosen after each poll iteration.
// ABOUTME: Only store unavailability doubles the poll interval.
package worker

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNextWait(t *testing.T) {
	t.Parallel()
	w := &Worker{cfg: Config{PollInterval: time.Second}}

	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"clean iteration", nil, time.Second},
		{"claim failed", fmt.Errorf("claim next entry: %w: %w", ErrStoreUnavailable, errors.New("refused")), 2 * time.Second},
		{"fetch failed", fmt.Errorf("fetch job: %w: %w", ErrStoreUnavailable, errors.New("reset")), 2 * time.Second},
		{"outcome write failed", errors.New("mark entry complete: deadlock"), time.Second},
		{"recovered panic", errors.New("panic during iteration: boom"), time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := w.nextWait(tt.err); got != tt.want {
				t.Errorf("nextWait(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
