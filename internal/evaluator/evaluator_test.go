package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/config"
	"github.com/HyphaGroup/assimilate/internal/container"
	"github.com/HyphaGroup/assimilate/internal/testutil"
)

func TestBuiltins(t *testing.T) {
	ctx := context.Background()

	out, err := Identity.Evaluate(ctx, algorithm.Batch{{1, 2}, {3}})
	require.NoError(t, err)
	assert.Equal(t, algorithm.Batch{{1, 2}, {3}}, out)

	out, err = Linear.Evaluate(ctx, algorithm.Batch{{2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, algorithm.Batch{{2, 6, 12, 20}}, out)

	_, err = Linear.Evaluate(ctx, algorithm.Batch{{1, 2}})
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestFloodHeight_ReferenceValues(t *testing.T) {
	want := []float64{0.19694513, 0.298513, 0.38073079, 0.45246109}

	out, err := Flood.Evaluate(context.Background(), algorithm.Batch{{25}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0], len(want))
	for i := range want {
		assert.InDelta(t, want[i], out[0][i], 1e-6, "Q=%v", FloodDischarges[i])
	}
}

func TestPointWise_HonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Identity.Evaluate(ctx, algorithm.Batch{{1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuiltin_Unknown(t *testing.T) {
	_, err := Builtin("quadratic")
	assert.ErrorIs(t, err, ErrUnknownEvaluator)
}

func TestContainer_Evaluate(t *testing.T) {
	rt := testutil.NewMockRuntime(t)
	rt.ExecFunc = func(call container.Call) (*container.Output, error) {
		var in algorithm.Batch
		if err := json.Unmarshal(call.Stdin, &in); err != nil {
			return nil, err
		}
		out, _ := Linear.Evaluate(context.Background(), in)
		data, _ := json.Marshal(out)
		return &container.Output{Stdout: string(data)}, nil
	}

	ev := NewContainer(rt, "abc", []string{"solver", "--json"})
	out, err := ev.Evaluate(context.Background(), algorithm.Batch{{2, 3, 4}, {0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, algorithm.Batch{{2, 6, 12, 20}, {0, 0, 0, 0}}, out)
	calls := rt.ExecCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "abc", calls[0].WorkerID)
	assert.Equal(t, []string{"solver", "--json"}, calls[0].Call.Cmd)
}

func TestContainer_Failures(t *testing.T) {
	tests := []struct {
		name   string
		result *container.Output
		err    error
	}{
		{"exec error", nil, errors.New("daemon gone")},
		{"non-zero exit", &container.Output{ExitCode: 2, Stderr: "boom"}, nil},
		{"garbage output", &container.Output{Stdout: "not json"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := testutil.NewMockRuntime(t)
			rt.ExecOutput = tt.result
			rt.ExecError = tt.err

			_, err := NewContainer(rt, "abc", []string{"solver"}).Evaluate(context.Background(), algorithm.Batch{{1}})
			assert.Error(t, err)
		})
	}
}

func TestLimited(t *testing.T) {
	calls := 0
	inner := Func(func(_ context.Context, in algorithm.Batch) (algorithm.Batch, error) {
		calls++
		return in, nil
	})

	// One token, refilled once per hour: the second call must wait.
	lim := NewLimited(inner, 1.0/3600, 0)
	_, err := lim.Evaluate(context.Background(), algorithm.Batch{{1}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lim.Evaluate(ctx, algorithm.Batch{{1}})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRegistry_Builtins(t *testing.T) {
	reg := NewRegistry(config.BuiltinEvaluators(), nil)
	assert.Equal(t, []string{"flood", "identity", "linear"}, reg.Names())
	assert.True(t, reg.Has("flood"))

	ev, err := reg.Get(context.Background(), "linear")
	require.NoError(t, err)
	out, err := ev.Evaluate(context.Background(), algorithm.Batch{{1, 1, 1}})
	require.NoError(t, err)
	assert.Equal(t, algorithm.Batch{{1, 2, 3, 6}}, out)

	_, err = reg.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownEvaluator)
}

func TestRegistry_ContainerFromImage(t *testing.T) {
	rt := testutil.NewMockRuntime(t)
	rt.Missing["solver:1"] = true
	rt.ExecOutput = &container.Output{Stdout: "[[1]]"}

	defs := map[string]config.EvaluatorDefinition{
		"solver": {Type: config.EvaluatorContainer, Image: "solver:1", Command: []string{"solve"}, Memory: "256m", RateLimit: 100, Burst: 5},
	}
	reg := NewRegistry(defs, rt)

	for i := 0; i < 2; i++ {
		ev, err := reg.Get(context.Background(), "solver")
		require.NoError(t, err)
		_, err = ev.Evaluate(context.Background(), algorithm.Batch{{1}})
		require.NoError(t, err)
	}

	require.Len(t, rt.Launched, 1, "worker is launched once")
	assert.Equal(t, "solver:1", rt.Launched[0].Image)
	assert.Equal(t, "solver", rt.Launched[0].Evaluator)
	assert.Equal(t, "256m", rt.Launched[0].Memory)
	assert.Equal(t, []string{"solver:1"}, rt.Pulled)
	assert.Len(t, rt.ExecCalls(), 2)

	require.NoError(t, reg.Close(context.Background()))
	assert.Equal(t, []string{"worker-1"}, rt.Removed)
	assert.Empty(t, rt.Workers())
}

func TestRegistry_LaunchFailure(t *testing.T) {
	rt := testutil.NewMockRuntime(t)
	rt.LaunchError = errors.New("no space left")

	defs := map[string]config.EvaluatorDefinition{
		"solver": {Type: config.EvaluatorContainer, Image: "solver:1", Command: []string{"solve"}},
	}
	_, err := NewRegistry(defs, rt).Get(context.Background(), "solver")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left")
}

func TestRegistry_ContainerWithoutRuntime(t *testing.T) {
	defs := map[string]config.EvaluatorDefinition{
		"solver": {Type: config.EvaluatorContainer, ContainerID: "abc", Command: []string{"solve"}},
	}
	_, err := NewRegistry(defs, nil).Get(context.Background(), "solver")
	assert.Error(t, err)
}
