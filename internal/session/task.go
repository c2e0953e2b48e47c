package session

import (
	"context"
	"sync"
	"time"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
)

// Task is the handle on a running worker.
type Task struct {
	done chan struct{}

	mu         sync.RWMutex
	state      *algorithm.State
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

func newTask() *Task {
	return &Task{done: make(chan struct{}), startedAt: time.Now()}
}

func (t *Task) finish(state *algorithm.State, err error) {
	t.mu.Lock()
	t.state = state
	t.err = err
	t.finishedAt = time.Now()
	t.mu.Unlock()
	close(t.done)
}

// Done is closed once the worker reached a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task is done or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finished reports whether the worker returned.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err is the worker's error, nil while running or on success.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// State is the history the worker produced, nil until it succeeded.
func (t *Task) State() *algorithm.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// StartedAt returns when the worker was spawned.
func (t *Task) StartedAt() time.Time {
	return t.startedAt
}

// FinishedAt returns when the worker returned, zero while running.
func (t *Task) FinishedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.finishedAt
}
