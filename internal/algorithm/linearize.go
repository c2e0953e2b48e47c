package algorithm

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// evaluate sends xs to the operator in one batch and checks the shape of the answer.
func (p *Problem) evaluate(ctx context.Context, xs Batch) (Batch, error) {
	out, err := p.Operator(ctx, xs)
	if err != nil {
		return nil, err
	}
	if len(out) != len(xs) {
		return nil, fmt.Errorf("%w: %d outputs for %d inputs", ErrMalformedResponse, len(out), len(xs))
	}
	m := len(p.Observation)
	for i, y := range out {
		if len(y) != m {
			return nil, fmt.Errorf("%w: output %d has size %d, want %d", ErrMalformedResponse, i, len(y), m)
		}
	}
	return out, nil
}

// simulate evaluates the operator at a single point.
func (p *Problem) simulate(ctx context.Context, x Vector) (Vector, error) {
	out, err := p.evaluate(ctx, Batch{clone(x)})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// linearize evaluates H(x) and its finite-difference Jacobian with a single
// batch: x first, then x perturbed along each axis (and the opposite
// perturbations when centered).
func (p *Problem) linearize(ctx context.Context, x Vector) (Vector, *mat.Dense, error) {
	n := len(x)
	steps := make([]float64, n)
	batch := make(Batch, 0, 1+2*n)
	batch = append(batch, clone(x))
	for i := 0; i < n; i++ {
		steps[i] = p.increment(x[i])
		batch = append(batch, perturb(x, i, steps[i]))
	}
	if p.CenteredDifference {
		for i := 0; i < n; i++ {
			batch = append(batch, perturb(x, i, -steps[i]))
		}
	}

	out, err := p.evaluate(ctx, batch)
	if err != nil {
		return nil, nil, err
	}

	hx := out[0]
	m := len(hx)
	jac := mat.NewDense(m, n, nil)
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			if p.CenteredDifference {
				jac.Set(i, j, (out[1+j][i]-out[1+n+j][i])/(2*steps[j]))
			} else {
				jac.Set(i, j, (out[1+j][i]-hx[i])/steps[j])
			}
		}
	}
	return hx, jac, nil
}

func perturb(x Vector, i int, d float64) Vector {
	y := clone(x)
	y[i] += d
	return y
}

func clone(x Vector) Vector {
	y := make(Vector, len(x))
	copy(y, x)
	return y
}
