package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/HyphaGroup/assimilate/internal/container"
)

// MockRuntime is an in-memory container.Runtime. Images listed in Missing
// are "pulled" by EnsureImage; every call is recorded.
type MockRuntime struct {
	mu sync.Mutex

	Missing     map[string]bool
	EnsureError error
	LaunchError error
	PingError   error

	// Exec answers with ExecFunc when set, otherwise with ExecOutput and
	// ExecError.
	ExecFunc   func(call container.Call) (*container.Output, error)
	ExecOutput *container.Output
	ExecError  error

	Pulled   []string
	Launched []container.WorkerSpec
	Removed  []string
	Execs    []ExecCall

	workers map[string]container.WorkerSpec
}

// ExecCall records one Exec.
type ExecCall struct {
	WorkerID string
	Call     container.Call
}

// NewMockRuntime returns a runtime whose images all exist and whose commands
// print nothing and succeed.
func NewMockRuntime(t *testing.T) *MockRuntime {
	t.Helper()
	return &MockRuntime{
		Missing:    make(map[string]bool),
		ExecOutput: &container.Output{},
		workers:    make(map[string]container.WorkerSpec),
	}
}

func (m *MockRuntime) EnsureImage(ctx context.Context, image string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnsureError != nil {
		return m.EnsureError
	}
	if m.Missing[image] {
		m.Pulled = append(m.Pulled, image)
		delete(m.Missing, image)
	}
	return nil
}

// Launch hands out sequential worker IDs: worker-1, worker-2, ...
func (m *MockRuntime) Launch(ctx context.Context, spec container.WorkerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Launched = append(m.Launched, spec)
	if m.LaunchError != nil {
		return "", m.LaunchError
	}
	id := fmt.Sprintf("worker-%d", len(m.Launched))
	m.workers[id] = spec
	return id, nil
}

func (m *MockRuntime) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removed = append(m.Removed, id)
	delete(m.workers, id)
	return nil
}

func (m *MockRuntime) Exec(ctx context.Context, id string, call container.Call) (*container.Output, error) {
	m.mu.Lock()
	m.Execs = append(m.Execs, ExecCall{WorkerID: id, Call: call})
	fn, out, err := m.ExecFunc, m.ExecOutput, m.ExecError
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(call)
	}
	return out, nil
}

func (m *MockRuntime) Ping(ctx context.Context) error { return m.PingError }
func (m *MockRuntime) Close() error                   { return nil }
func (m *MockRuntime) Name() string                   { return "mock" }

// Workers returns the IDs of launched workers not yet removed.
func (m *MockRuntime) Workers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	return ids
}

// ExecCalls returns a snapshot of the recorded Exec calls.
func (m *MockRuntime) ExecCalls() []ExecCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecCall(nil), m.Execs...)
}

var _ container.Runtime = (*MockRuntime)(nil)
