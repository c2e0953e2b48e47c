// Package docker runs evaluator workers on a Docker daemon.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/HyphaGroup/assimilate/internal/container"
	"github.com/HyphaGroup/assimilate/internal/logger"
)

// idleCmd keeps a worker alive between execs.
var idleCmd = []string{"sleep", "infinity"}

// Runtime implements container.Runtime with the Docker SDK.
type Runtime struct {
	client *client.Client
}

// NewRuntime connects using the DOCKER_* environment.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{client: cli}, nil
}

func (r *Runtime) Name() string { return "docker" }

func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

func (r *Runtime) Close() error {
	return r.client.Close()
}

// EnsureImage pulls image unless the daemon already has it.
func (r *Runtime) EnsureImage(ctx context.Context, ref string) error {
	_, err := r.client.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	logger.Info("Pulling evaluator image %s", ref)
	reader, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer func() { _ = reader.Close() }()
	return drainPull(reader)
}

// drainPull consumes the pull progress stream, surfacing an embedded error.
func drainPull(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Status string `json:"status"`
			ID     string `json:"id"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode pull output: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("pull error: %s", msg.Error)
		}
		if msg.ID != "" {
			logger.Info("   %s: %s", msg.ID, msg.Status)
		}
	}
}

// Launch creates a worker that idles under an init process and starts it.
// A worker that fails to start is removed again.
func (r *Runtime) Launch(ctx context.Context, spec container.WorkerSpec) (string, error) {
	hostConfig, err := workerHostConfig(spec)
	if err != nil {
		return "", err
	}
	cfg := &dockercontainer.Config{
		Image:  spec.Image,
		Cmd:    idleCmd,
		Env:    spec.Env,
		Labels: map[string]string{container.WorkerLabel: spec.Evaluator},
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create worker: %w", err)
	}
	if err := r.client.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		_ = r.Remove(ctx, resp.ID)
		return "", fmt.Errorf("failed to start worker: %w", err)
	}
	return resp.ID, nil
}

func workerHostConfig(spec container.WorkerSpec) (*dockercontainer.HostConfig, error) {
	memory, nanoCPUs, err := spec.Limits()
	if err != nil {
		return nil, err
	}
	useInit := true
	return &dockercontainer.HostConfig{
		Init: &useInit,
		Resources: dockercontainer.Resources{
			Memory:   memory,
			NanoCPUs: nanoCPUs,
		},
	}, nil
}

func (r *Runtime) Remove(ctx context.Context, id string) error {
	return r.client.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{Force: true})
}

// Exec runs call in a worker, feeding call.Stdin when set, and collects the
// demultiplexed output and exit code.
func (r *Runtime) Exec(ctx context.Context, id string, call container.Call) (*container.Output, error) {
	created, err := r.client.ContainerExecCreate(ctx, id, dockercontainer.ExecOptions{
		Cmd:          call.Cmd,
		Env:          call.Env,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  call.Stdin != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	hijacked, err := r.client.ContainerExecAttach(ctx, created.ID, dockercontainer.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer hijacked.Close()

	if call.Stdin != nil {
		if _, err := hijacked.Conn.Write(call.Stdin); err != nil {
			return nil, fmt.Errorf("failed to write exec input: %w", err)
		}
		if err := hijacked.CloseWrite(); err != nil {
			return nil, fmt.Errorf("failed to close exec input: %w", err)
		}
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, hijacked.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return &container.Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

var _ container.Runtime = (*Runtime)(nil)
