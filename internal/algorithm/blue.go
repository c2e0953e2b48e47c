package algorithm

import (
	"context"
	"fmt"
)

// linearAnalysis computes a single analysis from the operator linearized at
// the background: the best linear unbiased estimate when the background term
// is kept, linear least squares otherwise.
type linearAnalysis struct {
	name       Name
	background bool
}

func (l *linearAnalysis) Name() Name { return l.name }

func (l *linearAnalysis) Run(ctx context.Context, p *Problem) (*State, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	obj, err := newObjective(p, l.background)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}

	rec := newRecorder(p)
	xb := clone(p.Background)
	hxb, jac, err := p.linearize(ctx, xb)
	if err != nil {
		return nil, fmt.Errorf("linearizing at background: %w", err)
	}
	jb, jo := obj.cost(xb, hxb)
	rec.iterate(xb, hxb, jb, jo)

	dx, err := obj.step(xb, hxb, jac)
	if err != nil {
		return nil, err
	}
	xa := axpy(xb, 1, dx)

	hxa, err := p.simulate(ctx, xa)
	if err != nil {
		return nil, fmt.Errorf("evaluating analysis: %w", err)
	}
	jb, jo = obj.cost(xa, hxa)
	rec.iterate(xa, hxa, jb, jo)

	return rec.finish(xa, hxa, hxb), nil
}
