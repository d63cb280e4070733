// ABOUTME: Tests for Worker lifecycle transitions and stop handling.
// ABOUTME: Covers stop before run, double stop and pre-cancelled contexts.
package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dbawebdesign/lailms-sub004/internal/store/memory"
	"github.com/dbawebdesign/lailms-sub004/internal/worker"
)

func TestLifecycle_StartStop(t *testing.T) {
	t.Parallel()
	s := memory.New()
	w := newTestWorker(s, okOrchestrator(), 3)

	if got := w.Lifecycle().State(); got != worker.StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}

	errc := make(chan error, 1)
	go func() { errc <- w.Run(context.Background()) }()

	waitFor(t, func() bool { return w.Lifecycle().State() == worker.StateRunning })

	w.Stop()
	w.Stop() // idempotent

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	<-w.Lifecycle().Done()
	if got := w.Lifecycle().State(); got != worker.StateStopped {
		t.Errorf("final state = %s, want stopped", got)
	}

	if err := w.Run(context.Background()); !errors.Is(err, worker.ErrAlreadyStarted) {
		t.Errorf("second Run = %v, want ErrAlreadyStarted", err)
	}
}

func TestLifecycle_StopBeforeRun(t *testing.T) {
	t.Parallel()
	s := memory.New()
	w := newTestWorker(s, okOrchestrator(), 3)

	w.Stop()
	if got := w.Lifecycle().State(); got != worker.StateStopped {
		t.Fatalf("state after early Stop = %s, want stopped", got)
	}
	if err := w.Run(context.Background()); !errors.Is(err, worker.ErrAlreadyStarted) {
		t.Errorf("Run after Stop = %v, want ErrAlreadyStarted", err)
	}
}

func TestLifecycle_CancelledContext(t *testing.T) {
	t.Parallel()
	s := memory.New()
	q := &countingQueue{QueueStore: s}
	w := worker.New(q, s, okOrchestrator(), testConfig(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := q.claims.Load(); n != 0 {
		t.Errorf("claims after pre-cancelled Run = %d, want 0", n)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	want := map[worker.State]string{
		worker.StateIdle:     "idle",
		worker.StateRunning:  "running",
		worker.StateStopping: "stopping",
		worker.StateStopped:  "stopped",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), name)
		}
	}
}
