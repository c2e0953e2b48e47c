package algorithm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

// linearOperator maps (a, b, c) to (a, 2b, 3c, a+2b+3c).
func linearOperator(calls *int) Hook {
	return func(_ context.Context, in Batch) (Batch, error) {
		*calls++
		out := make(Batch, len(in))
		for i, v := range in {
			out[i] = Vector{v[0], 2 * v[1], 3 * v[2], v[0] + 2*v[1] + 3*v[2]}
		}
		return out, nil
	}
}

func linearProblem(calls *int) *Problem {
	return &Problem{
		Background:       Vector{5, 7, 9},
		BackgroundError:  Covariance{Scalar: 1e10},
		Observation:      Vector{2, 6, 12, 20},
		ObservationError: Covariance{Scalar: 1},
		Operator:         linearOperator(calls),
		Bounds: []Bound{
			{Lower: ptr(0), Upper: ptr(10)},
			{Lower: ptr(3), Upper: ptr(13)},
			{Lower: ptr(1.5), Upper: ptr(15.5)},
		},
		MaximumNumberOfSteps:   100,
		CostDecrementTolerance: 1e-7,
		DifferentialIncrement:  1e-4,
		StoreSupplementary:     []string{"CurrentOptimum", "SimulatedObservationAtOptimum", "OMA"},
	}
}

func TestAlgorithms_LinearCase(t *testing.T) {
	for _, name := range []Name{ThreeDVar, Blue, NonLinearLeastSquares, LinearLeastSquares} {
		t.Run(string(name), func(t *testing.T) {
			calls := 0
			algo, err := ForName(name)
			require.NoError(t, err)
			assert.Equal(t, name, algo.Name())

			st, err := algo.Run(context.Background(), linearProblem(&calls))
			require.NoError(t, err)

			analysis, err := st.Get(SeriesAnalysis)
			require.NoError(t, err)
			xa, ok := analysis.Last()
			require.True(t, ok)
			assert.InDelta(t, 2, xa[0], 1e-6)
			assert.InDelta(t, 3, xa[1], 1e-6)
			assert.InDelta(t, 4, xa[2], 1e-6)

			hxa, err := st.Get("SimulatedObservationAtOptimum")
			require.NoError(t, err)
			last, _ := hxa.Last()
			assert.InDelta(t, 20, last[3], 1e-5)

			assert.Greater(t, calls, 0)
		})
	}
}

func TestAlgorithms_SingleCalloutsAreBatched(t *testing.T) {
	calls := 0
	var sizes []int
	inner := linearOperator(&calls)
	p := linearProblem(&calls)
	p.Operator = func(ctx context.Context, in Batch) (Batch, error) {
		sizes = append(sizes, len(in))
		return inner(ctx, in)
	}

	algo, err := ForName(Blue)
	require.NoError(t, err)
	_, err = algo.Run(context.Background(), p)
	require.NoError(t, err)

	// One Jacobian batch (x plus one perturbation per component), then the analysis.
	assert.Equal(t, []int{4, 1}, sizes)

	p.CenteredDifference = true
	sizes = nil
	_, err = algo.Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []int{7, 1}, sizes)
}

func TestAlgorithms_FloodCase(t *testing.T) {
	const (
		length = 5000.0
		width  = 300.0
		zv     = 49.0
		zm     = 51.0
	)
	alpha := (zm - zv) / length
	flows := []float64{10, 20, 30, 40}
	height := func(q, ks float64) float64 {
		return math.Pow(q/(ks*width*math.Sqrt(alpha)), 3.0/5.0)
	}

	op := func(_ context.Context, in Batch) (Batch, error) {
		out := make(Batch, len(in))
		for i, v := range in {
			h := make(Vector, len(flows))
			for j, q := range flows {
				h[j] = height(q, v[0])
			}
			out[i] = h
		}
		return out, nil
	}

	for _, name := range []Name{ThreeDVar, NonLinearLeastSquares} {
		t.Run(string(name), func(t *testing.T) {
			p := &Problem{
				Background:            Vector{20},
				BackgroundError:       Covariance{Matrix: [][]float64{{5e10}}},
				Observation:           Vector{0.19694513, 0.298513, 0.38073079, 0.45246109},
				ObservationError:      Covariance{Scalar: 0.5},
				Operator:              op,
				MaximumNumberOfSteps:  100,
				DifferentialIncrement: 1e-4,
			}
			algo, err := ForName(name)
			require.NoError(t, err)
			st, err := algo.Run(context.Background(), p)
			require.NoError(t, err)

			series, err := st.Get(SeriesAnalysis)
			require.NoError(t, err)
			ks, _ := series.Last()
			assert.InDelta(t, 25, ks[0], 1e-3)

			costs, err := st.Get(SeriesCostJ)
			require.NoError(t, err)
			first := costs[0]
			final, _ := costs.Last()
			assert.LessOrEqual(t, final[0], first[0])
		})
	}
}

func TestAlgorithms_OperatorError(t *testing.T) {
	boom := errors.New("boom")
	p := linearProblem(new(int))
	p.Operator = func(context.Context, Batch) (Batch, error) { return nil, boom }

	algo, err := ForName(ThreeDVar)
	require.NoError(t, err)
	_, err = algo.Run(context.Background(), p)
	assert.ErrorIs(t, err, boom)
}

func TestAlgorithms_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		op   Hook
	}{
		{"wrong batch length", func(_ context.Context, in Batch) (Batch, error) {
			return in[:1], nil
		}},
		{"wrong output size", func(_ context.Context, in Batch) (Batch, error) {
			out := make(Batch, len(in))
			for i := range in {
				out[i] = Vector{1}
			}
			return out, nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := linearProblem(new(int))
			p.Operator = tt.op
			algo, _ := ForName(NonLinearLeastSquares)
			_, err := algo.Run(context.Background(), p)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestForName_Unknown(t *testing.T) {
	_, err := ForName("Kalman")
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
	assert.False(t, Name("Kalman").Valid())
	assert.True(t, ThreeDVar.Valid())
	assert.True(t, ThreeDVar.Iterative())
	assert.False(t, Blue.Iterative())
}

func TestProblem_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Problem)
	}{
		{"no operator", func(p *Problem) { p.Operator = nil }},
		{"empty background", func(p *Problem) { p.Background = nil }},
		{"empty observation", func(p *Problem) { p.Observation = nil }},
		{"bounds length", func(p *Problem) { p.Bounds = p.Bounds[:1] }},
		{"inverted bound", func(p *Problem) { p.Bounds[0] = Bound{Lower: ptr(2), Upper: ptr(1)} }},
		{"zero increment", func(p *Problem) { p.DifferentialIncrement = 0 }},
		{"unknown supplementary", func(p *Problem) { p.StoreSupplementary = []string{"Nope"} }},
		{"bad observer", func(p *Problem) { p.Observers = []Observer{{Variable: "CurrentState", Template: "Nope"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := linearProblem(new(int))
			tt.modify(p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidProblem)
		})
	}
}

func TestCovariance_Inverse(t *testing.T) {
	inv, err := Covariance{Diagonal: []float64{2, 4}}.Inverse(2)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, inv.At(0, 0), 1e-12)
	assert.InDelta(t, 0.25, inv.At(1, 1), 1e-12)

	inv, err = Covariance{Matrix: [][]float64{{2, 0}, {0, 8}}}.Inverse(2)
	require.NoError(t, err)
	assert.InDelta(t, 0.125, inv.At(1, 1), 1e-12)

	_, err = Covariance{Diagonal: []float64{1}}.Inverse(2)
	assert.Error(t, err)
	_, err = Covariance{}.Inverse(2)
	assert.Error(t, err)
}

func TestState_SeriesAndObservers(t *testing.T) {
	st := NewState(Observer{Variable: SeriesCurrentState, Template: TemplateValuePrinter})
	st.Store(SeriesCurrentState, Vector{1})
	v := Vector{2}
	st.Store(SeriesCurrentState, v)
	v[0] = 99

	series, err := st.Get(SeriesCurrentState)
	require.NoError(t, err)
	require.Len(t, series, 2)
	last, ok := series.Last()
	require.True(t, ok)
	assert.Equal(t, Vector{2}, last)

	_, err = st.Get(SeriesAnalysis)
	assert.ErrorIs(t, err, ErrNoSuchSeries)
	assert.Equal(t, []string{SeriesCurrentState}, st.Names())

	_, ok = Series(nil).Last()
	assert.False(t, ok)
}
