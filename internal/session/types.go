// Package session runs one assimilation at a time per Session: a worker
// goroutine executes the algorithm and calls out through a handoff slot, a
// controller answers the callouts, and Join reads the final analysis.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
)

// Status represents the state of a run
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

var (
	// ErrNotStarted is returned by controller calls made before Start.
	ErrNotStarted = errors.New("run not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("run already started")

	// ErrAlreadyJoined is returned by a second Join.
	ErrAlreadyJoined = errors.New("run already joined")

	// ErrResultUnavailable is returned when the worker succeeded but left no
	// entry in the result series.
	ErrResultUnavailable = errors.New("result unavailable")

	// ErrNotFound is returned by the manager for unknown run IDs.
	ErrNotFound = errors.New("run not found")

	// ErrTooManyRuns is returned when the manager is at capacity.
	ErrTooManyRuns = errors.New("maximum active runs reached")
)

// WorkerFailure wraps the error that ended a worker.
type WorkerFailure struct {
	RunID     string
	Algorithm algorithm.Name
	Err       error
}

func (f *WorkerFailure) Error() string {
	return fmt.Sprintf("worker %s (%s) failed: %v", f.RunID, f.Algorithm, f.Err)
}

func (f *WorkerFailure) Unwrap() error {
	return f.Err
}

// Options configure a Session. Zero values pick the defaults.
type Options struct {
	RunID     string
	CaseName  string
	Evaluator string

	// ResultSeries names the history series Join reads. Default "Analysis".
	ResultSeries string

	// EvaluationTimeout bounds each evaluation made by Drive; zero disables it.
	EvaluationTimeout time.Duration

	EventBufferSize int

	// Worker, when set, runs instead of the algorithm named by the spec.
	Worker algorithm.Algorithm
}

// Summary is a lightweight view of a run
type Summary struct {
	RunID        string         `json:"run_id"`
	CaseName     string         `json:"case_name,omitempty"`
	Algorithm    algorithm.Name `json:"algorithm,omitempty"`
	Evaluator    string         `json:"evaluator,omitempty"`
	Status       Status         `json:"status"`
	Callouts     int64          `json:"callouts"`
	Pending      bool           `json:"pending"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	LastActivity time.Time      `json:"last_activity"`
	Error        string         `json:"error,omitempty"`
}
