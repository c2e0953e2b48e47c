package algorithm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultMaximumNumberOfSteps   = 100
	DefaultCostDecrementTolerance = 1e-7
	DefaultDifferentialIncrement  = 1e-4

	maxHalvings = 8
)

// gaussNewton minimizes the variational cost with a bounded Gauss-Newton
// iteration. The background term is dropped for non-linear least squares.
type gaussNewton struct {
	name       Name
	background bool
}

func (g *gaussNewton) Name() Name { return g.name }

func (g *gaussNewton) Run(ctx context.Context, p *Problem) (*State, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	obj, err := newObjective(p, g.background)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}

	maxSteps := p.MaximumNumberOfSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaximumNumberOfSteps
	}
	tol := p.CostDecrementTolerance
	if tol <= 0 {
		tol = DefaultCostDecrementTolerance
	}

	rec := newRecorder(p)
	x := p.clip(clone(p.Background))
	hx, jac, err := p.linearize(ctx, x)
	if err != nil {
		return nil, fmt.Errorf("evaluating initial state: %w", err)
	}
	var hxb Vector
	if floats.Equal(x, p.Background) {
		hxb = hx
	}
	jb, jo := obj.cost(x, hx)
	rec.iterate(x, hx, jb, jo)
	j := jb + jo

	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dx, err := obj.step(x, hx, jac)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", step, err)
		}

		accepted := false
		alpha := 1.0
		for h := 0; h < maxHalvings; h++ {
			cand := p.clip(axpy(x, alpha, dx))
			if negligible(cand, x) {
				break
			}
			chx, cjac, err := p.linearize(ctx, cand)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", step, err)
			}
			cjb, cjo := obj.cost(cand, chx)
			if cjb+cjo <= j {
				prev := j
				x, hx, jac, j = cand, chx, cjac, cjb+cjo
				rec.iterate(x, hx, cjb, cjo)
				accepted = prev-j > tol*prev
				if !accepted {
					// Converged on the cost decrement.
					return rec.finish(x, hx, hxb), nil
				}
				break
			}
			alpha /= 2
		}
		if !accepted {
			break
		}
	}
	return rec.finish(x, hx, hxb), nil
}

// step solves the Gauss-Newton normal equations linearized at x.
func (o *objective) step(x, hx Vector, jac *mat.Dense) (Vector, error) {
	n := len(x)

	var jtr mat.Dense
	jtr.Mul(jac.T(), o.rinv)
	var hess mat.Dense
	hess.Mul(&jtr, jac)

	var innov mat.VecDense
	innov.SubVec(o.y, mat.NewVecDense(len(hx), clone(hx)))
	var grad mat.VecDense
	grad.MulVec(&jtr, &innov)

	if o.binv != nil {
		hess.Add(&hess, o.binv)
		var dxb, bterm mat.VecDense
		dxb.SubVec(o.xb, mat.NewVecDense(n, clone(x)))
		bterm.MulVec(o.binv, &dxb)
		grad.AddVec(&grad, &bterm)
	}

	dx, err := solve(&hess, &grad)
	if err == nil {
		return dx, nil
	}

	// Singular normal equations: retry with a small Levenberg damping.
	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(hess.At(i, i)))
	}
	if scale == 0 {
		scale = 1
	}
	for i := 0; i < n; i++ {
		hess.Set(i, i, hess.At(i, i)+1e-8*scale)
	}
	if dx, err = solve(&hess, &grad); err != nil {
		return nil, fmt.Errorf("normal equations are singular: %w", err)
	}
	return dx, nil
}

func solve(a *mat.Dense, b *mat.VecDense) (Vector, error) {
	var dx mat.VecDense
	err := dx.SolveVec(a, b)
	var cond mat.Condition
	if err != nil && !errors.As(err, &cond) {
		return nil, err
	}
	out := clone(dx.RawVector().Data)
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("ill-conditioned system (condition %g)", float64(cond))
		}
	}
	return out, nil
}

func axpy(x Vector, alpha float64, dx Vector) Vector {
	out := clone(x)
	floats.AddScaled(out, alpha, dx)
	return out
}

func negligible(a, b Vector) bool {
	return floats.Distance(a, b, 2) <= 1e-14*(1+floats.Norm(b, 2))
}
