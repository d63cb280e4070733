// ABOUTME: Lifecycle is the explicit run state of one Worker.
// ABOUTME: Transitions: idle -> running -> stopping -> stopped, stop is idempotent.
package worker

import (
	"errors"
	"sync"
)

// State is a Worker's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned when Run is called on a Worker that has
// already been started.
var ErrAlreadyStarted = errors.New("worker already started")

// Lifecycle tracks one Worker's run state. Transitions only move forward:
// idle → running → stopping → stopped. Stop before start skips straight to
// stopped.
type Lifecycle struct {
	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

func newLifecycle() *Lifecycle {
	return &Lifecycle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (l *Lifecycle) start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		return ErrAlreadyStarted
	}
	l.state = StateRunning
	return nil
}

// Stop requests a cooperative stop. Safe to call more than once and from any
// goroutine.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateIdle:
		l.state = StateStopped
		close(l.stop)
		close(l.done)
	case StateRunning:
		l.state = StateStopping
		close(l.stop)
	}
}

func (l *Lifecycle) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateStopped {
		return
	}
	if l.state == StateRunning {
		close(l.stop)
	}
	l.state = StateStopped
	close(l.done)
}

// State returns the current phase.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stopping is closed once a stop has been requested.
func (l *Lifecycle) Stopping() <-chan struct{} { return l.stop }

// Done is closed once the run loop has returned.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

func (l *Lifecycle) stopRequested() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}
