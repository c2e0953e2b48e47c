package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/container"
)

// Container evaluates batches by running a command inside a container. The
// batch is written to the command's stdin as a JSON array of arrays and the
// command prints the output batch in the same form.
type Container struct {
	exec        container.Execer
	containerID string
	command     []string
	env         []string
}

// NewContainer returns an evaluator that execs command in containerID.
func NewContainer(exec container.Execer, containerID string, command []string, env ...string) *Container {
	return &Container{
		exec:        exec,
		containerID: containerID,
		command:     append([]string(nil), command...),
		env:         env,
	}
}

// Evaluate runs the command once for the whole batch.
func (c *Container) Evaluate(ctx context.Context, in algorithm.Batch) (algorithm.Batch, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	res, err := c.exec.Exec(ctx, c.containerID, container.Call{
		Cmd:   c.command,
		Env:   c.env,
		Stdin: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("exec in %s: %w", shortID(c.containerID), err)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("evaluator %w", err)
	}

	var out algorithm.Batch
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("decoding evaluator output: %w", err)
	}
	return out, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
