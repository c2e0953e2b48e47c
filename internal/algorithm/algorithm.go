// Package algorithm contains the estimation algorithms run by a session worker.
//
// An algorithm never evaluates the observation operator itself: every
// evaluation goes through the Problem's Operator hook, one batch per call.
package algorithm

import (
	"context"
	"errors"
	"fmt"
)

// Vector is a single state or observation vector.
type Vector []float64

// Batch is the unit of exchange with the observation operator: a list of
// input vectors in, a list of output vectors of the same length out.
type Batch []Vector

// Hook evaluates the observation operator for every vector of a batch.
type Hook func(ctx context.Context, in Batch) (Batch, error)

// Name identifies an algorithm.
type Name string

const (
	ThreeDVar             Name = "3DVAR"
	Blue                  Name = "Blue"
	LinearLeastSquares    Name = "LinearLeastSquares"
	NonLinearLeastSquares Name = "NonLinearLeastSquares"
)

// Names lists every supported algorithm.
var Names = []Name{ThreeDVar, Blue, NonLinearLeastSquares, LinearLeastSquares}

var (
	ErrUnknownAlgorithm  = errors.New("unknown algorithm")
	ErrInvalidProblem    = errors.New("invalid problem")
	ErrMalformedResponse = errors.New("malformed operator response")
	ErrNoSuchSeries      = errors.New("no such series")
)

// Algorithm runs an estimation to completion and returns its history.
type Algorithm interface {
	Name() Name
	Run(ctx context.Context, p *Problem) (*State, error)
}

// ForName returns the algorithm registered under name.
func ForName(name Name) (Algorithm, error) {
	switch name {
	case ThreeDVar:
		return &gaussNewton{name: ThreeDVar, background: true}, nil
	case NonLinearLeastSquares:
		return &gaussNewton{name: NonLinearLeastSquares}, nil
	case Blue:
		return &linearAnalysis{name: Blue, background: true}, nil
	case LinearLeastSquares:
		return &linearAnalysis{name: LinearLeastSquares}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// Valid reports whether n names a supported algorithm.
func (n Name) Valid() bool {
	for _, known := range Names {
		if n == known {
			return true
		}
	}
	return false
}

// Iterative reports whether the algorithm honours step and tolerance parameters.
func (n Name) Iterative() bool {
	return n == ThreeDVar || n == NonLinearLeastSquares
}
