// Package container hosts out-of-process evaluators. A worker is a long-lived
// container that idles until an evaluator execs its command in it, once per
// batch.
package container

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/go-units"
)

// WorkerLabel marks containers launched for an evaluator. Its value is the
// evaluator name.
const WorkerLabel = "assimilate.evaluator"

// Runtime provisions workers and runs commands in them.
type Runtime interface {
	Execer

	// EnsureImage makes image available locally, pulling it when missing.
	EnsureImage(ctx context.Context, image string) error
	// Launch creates and starts a worker and returns its ID.
	Launch(ctx context.Context, spec WorkerSpec) (string, error)
	// Remove force-removes a worker.
	Remove(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
	Name() string
}

// Execer runs a command inside an existing worker. It is the only part of
// Runtime an evaluator needs.
type Execer interface {
	Exec(ctx context.Context, id string, call Call) (*Output, error)
}

// WorkerSpec describes a worker to launch.
type WorkerSpec struct {
	Name      string
	Image     string
	Evaluator string
	Env       []string
	Memory    string // e.g. "512m", "4G"
	CPUs      int
}

// Limits converts the resource fields to bytes and nano-CPUs. Zero means
// unlimited.
func (s WorkerSpec) Limits() (memory, nanoCPUs int64, err error) {
	if s.Memory != "" {
		memory, err = units.RAMInBytes(s.Memory)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid memory limit %q: %w", s.Memory, err)
		}
	}
	if s.CPUs < 0 {
		return 0, 0, fmt.Errorf("invalid cpu count %d", s.CPUs)
	}
	return memory, int64(s.CPUs) * 1e9, nil
}

// Call is one command execution. Stdin, when set, is written to the command
// and then closed.
type Call struct {
	Cmd   []string
	Env   []string
	Stdin []byte
}

// Output is what a finished command left behind.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Err returns an *ExitError when the command did not exit cleanly.
func (o *Output) Err() error {
	if o.ExitCode == 0 {
		return nil
	}
	return &ExitError{Code: o.ExitCode, Stderr: strings.TrimSpace(o.Stderr)}
}

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command exited with %d", e.Code)
	}
	return fmt.Sprintf("command exited with %d: %s", e.Code, e.Stderr)
}
