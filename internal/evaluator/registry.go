package evaluator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/config"
	"github.com/HyphaGroup/assimilate/internal/container"
	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/metrics"
)

// Registry resolves configured evaluator names. Container evaluators backed by
// an image share one worker, launched on first use and removed on Close.
type Registry struct {
	defs    map[string]config.EvaluatorDefinition
	runtime container.Runtime

	mu          sync.Mutex
	provisioned map[string]string // evaluator name -> worker ID
}

// NewRegistry builds a registry. rt may be nil when no container evaluator is
// configured.
func NewRegistry(defs map[string]config.EvaluatorDefinition, rt container.Runtime) *Registry {
	return &Registry{
		defs:        defs,
		runtime:     rt,
		provisioned: make(map[string]string),
	}
}

// Names returns the configured evaluator names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is configured.
func (r *Registry) Has(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Get returns the evaluator for name, instrumented and rate limited as
// configured.
func (r *Registry) Get(ctx context.Context, name string) (Evaluator, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvaluator, name)
	}

	var ev Evaluator
	switch def.Type {
	case config.EvaluatorBuiltin:
		b, err := Builtin(def.Builtin)
		if err != nil {
			return nil, err
		}
		ev = b
	case config.EvaluatorContainer:
		id, err := r.containerFor(ctx, name, def)
		if err != nil {
			return nil, err
		}
		ev = NewContainer(r.runtime, id, def.Command)
	default:
		return nil, fmt.Errorf("%w: %q has type %q", ErrUnknownEvaluator, name, def.Type)
	}

	if def.RateLimit > 0 {
		ev = NewLimited(ev, def.RateLimit, def.Burst)
	}
	return Instrument(name, ev), nil
}

func (r *Registry) containerFor(ctx context.Context, name string, def config.EvaluatorDefinition) (string, error) {
	if r.runtime == nil {
		return "", fmt.Errorf("evaluator %q needs a container runtime", name)
	}
	if def.ContainerID != "" {
		return def.ContainerID, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.provisioned[name]; ok {
		return id, nil
	}

	if err := r.runtime.EnsureImage(ctx, def.Image); err != nil {
		return "", fmt.Errorf("preparing image %s: %w", def.Image, err)
	}
	id, err := r.runtime.Launch(ctx, container.WorkerSpec{
		Name:      fmt.Sprintf("assimilate-%s-%s", name, uuid.NewString()[:8]),
		Image:     def.Image,
		Evaluator: name,
		Memory:    def.Memory,
		CPUs:      def.CPUs,
	})
	if err != nil {
		return "", fmt.Errorf("launching worker for %s: %w", name, err)
	}

	logger.Info("Started worker %s for evaluator %s", shortID(id), name)
	r.provisioned[name] = id
	return id, nil
}

// Close removes the workers the registry launched.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, id := range r.provisioned {
		if err := r.runtime.Remove(ctx, id); err != nil {
			logger.Error("Failed to remove worker %s: %v", shortID(id), err)
			if firstErr == nil {
				firstErr = err
			}
		}
		delete(r.provisioned, name)
	}
	return firstErr
}

// Instrument records duration and failures of every evaluation under name.
func Instrument(name string, next Evaluator) Evaluator {
	return Func(func(ctx context.Context, in algorithm.Batch) (algorithm.Batch, error) {
		start := time.Now()
		out, err := next.Evaluate(ctx, in)
		metrics.RecordEvaluation(name, time.Since(start).Seconds(), err)
		return out, err
	})
}
