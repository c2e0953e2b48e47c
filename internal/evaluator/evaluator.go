// Package evaluator answers worker callouts. An Evaluator turns a batch of
// input vectors into the batch of simulated observations, one output per
// input, in order.
package evaluator

import (
	"context"
	"errors"
	"fmt"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
)

var (
	// ErrUnknownEvaluator is returned when a name has no definition.
	ErrUnknownEvaluator = errors.New("unknown evaluator")

	// ErrBadInput is returned when an input vector does not fit the function.
	ErrBadInput = errors.New("evaluator input has the wrong size")
)

// Evaluator evaluates a batch of vectors.
type Evaluator interface {
	Evaluate(ctx context.Context, in algorithm.Batch) (algorithm.Batch, error)
}

// Func adapts a plain function to Evaluator.
type Func func(ctx context.Context, in algorithm.Batch) (algorithm.Batch, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, in algorithm.Batch) (algorithm.Batch, error) {
	return f(ctx, in)
}

// PointWise lifts a single-vector function to batches. The context is checked
// between elements.
type PointWise func(x algorithm.Vector) (algorithm.Vector, error)

// Evaluate applies p to every element of in.
func (p PointWise) Evaluate(ctx context.Context, in algorithm.Batch) (algorithm.Batch, error) {
	out := make(algorithm.Batch, len(in))
	for i, x := range in {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		y, err := p(x)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

// Hook exposes an evaluator with the signature bound at a case's hook point.
func Hook(e Evaluator) algorithm.Hook {
	return e.Evaluate
}
