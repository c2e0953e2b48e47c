package evaluator

import (
	"fmt"
	"math"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
)

// Flood model constants: reach length, river width, downstream and
// upstream bed elevations.
const (
	FloodLength = 5.0e3
	FloodWidth  = 300.0
	FloodZv     = 49.0
	FloodZm     = 51.0
)

// FloodDischarges are the flows at which the flood evaluator reports heights.
var FloodDischarges = []float64{10, 20, 30, 40}

// Identity returns every input unchanged.
var Identity = PointWise(func(x algorithm.Vector) (algorithm.Vector, error) {
	return append(algorithm.Vector(nil), x...), nil
})

// Linear maps (a, b, c) to (a, 2b, 3c, a+2b+3c).
var Linear = PointWise(func(x algorithm.Vector) (algorithm.Vector, error) {
	if len(x) != 3 {
		return nil, fmt.Errorf("%w: linear takes 3 values, got %d", ErrBadInput, len(x))
	}
	return algorithm.Vector{x[0], 2 * x[1], 3 * x[2], x[0] + 2*x[1] + 3*x[2]}, nil
})

// Flood maps a Strickler coefficient Ks to the water heights at FloodDischarges.
var Flood = PointWise(func(x algorithm.Vector) (algorithm.Vector, error) {
	if len(x) != 1 {
		return nil, fmt.Errorf("%w: flood takes 1 value, got %d", ErrBadInput, len(x))
	}
	out := make(algorithm.Vector, len(FloodDischarges))
	for i, q := range FloodDischarges {
		out[i] = FloodHeight(q, x[0])
	}
	return out, nil
})

// FloodHeight is H = (Q / (Ks * B * sqrt(alpha)))^(3/5) with alpha the bed slope.
func FloodHeight(q, ks float64) float64 {
	alpha := (FloodZm - FloodZv) / FloodLength
	return math.Pow(q/(ks*FloodWidth*math.Sqrt(alpha)), 3.0/5.0)
}

// Builtin returns the builtin evaluator registered under name.
func Builtin(name string) (Evaluator, error) {
	switch name {
	case "identity":
		return Identity, nil
	case "linear":
		return Linear, nil
	case "flood":
		return Flood, nil
	default:
		return nil, fmt.Errorf("%w: builtin %q", ErrUnknownEvaluator, name)
	}
}
