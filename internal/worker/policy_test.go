// ABOUTME: Table tests for Policy.Decide and Policy.Delay.
// ABOUTME: Includes the ceiling boundary and overflow cap.
package worker_test

import (
	"testing"
	"time"

	"github.com/dbawebdesign/lailms-sub004/internal/store"
	"github.com/dbawebdesign/lailms-sub004/internal/worker"
)

func intPtr(n int) *int { return &n }

func TestPolicy_Decide(t *testing.T) {
	t.Parallel()

	p := worker.Policy{DefaultMaxRetries: 3}
	tests := []struct {
		name       string
		retryCount int
		maxRetries *int
		want       worker.Decision
	}{
		{"first failure", 0, nil, worker.Retry},
		{"one below ceiling", 2, nil, worker.Retry},
		{"at ceiling", 3, nil, worker.Fail},
		{"past ceiling", 7, nil, worker.Fail},
		{"entry override allows more", 3, intPtr(5), worker.Retry},
		{"entry override at ceiling", 5, intPtr(5), worker.Fail},
		{"zero retries", 0, intPtr(0), worker.Fail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := &store.Entry{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
			if got := p.Decide(e); got != tt.want {
				t.Errorf("Decide(retry_count=%d) = %s, want %s", tt.retryCount, got, tt.want)
			}
		})
	}
}

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		policy     worker.Policy
		retryCount int
		want       time.Duration
	}{
		{"disabled", worker.Policy{}, 4, 0},
		{"first retry", worker.Policy{BackoffBase: time.Second}, 0, time.Second},
		{"doubles", worker.Policy{BackoffBase: time.Second}, 3, 8 * time.Second},
		{"capped", worker.Policy{BackoffBase: time.Second, BackoffMax: 5 * time.Second}, 3, 5 * time.Second},
		{"huge retry count stays capped", worker.Policy{BackoffBase: time.Second, BackoffMax: time.Minute}, 500, time.Minute},
		{"huge retry count uncapped does not overflow", worker.Policy{BackoffBase: time.Second}, 500, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.policy.Delay(tt.retryCount)
			if tt.want == 0 && tt.policy.BackoffBase > 0 {
				if got <= 0 {
					t.Errorf("Delay(%d) = %s, want positive", tt.retryCount, got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Delay(%d) = %s, want %s", tt.retryCount, got, tt.want)
			}
		})
	}
}

func TestDecision_String(t *testing.T) {
	t.Parallel()
	if worker.Retry.String() != "retry" || worker.Fail.String() != "fail" {
		t.Errorf("unexpected decision names: %s, %s", worker.Retry, worker.Fail)
	}
}
