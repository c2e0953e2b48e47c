package algorithm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Bound constrains one state component. A nil side is unbounded.
type Bound struct {
	Lower *float64 `json:"lower,omitempty" yaml:"lower,omitempty"`
	Upper *float64 `json:"upper,omitempty" yaml:"upper,omitempty"`
}

// Covariance describes an error covariance in one of three forms, checked in
// order: a full matrix, a diagonal, or a scalar multiple of the identity.
type Covariance struct {
	Matrix   [][]float64
	Diagonal []float64
	Scalar   float64
}

// Inverse returns the n x n inverse of the covariance.
func (c Covariance) Inverse(n int) (*mat.Dense, error) {
	switch {
	case len(c.Matrix) > 0:
		if len(c.Matrix) != n {
			return nil, fmt.Errorf("covariance matrix has %d rows, want %d", len(c.Matrix), n)
		}
		data := make([]float64, 0, n*n)
		for i, row := range c.Matrix {
			if len(row) != n {
				return nil, fmt.Errorf("covariance matrix row %d has %d columns, want %d", i, len(row), n)
			}
			data = append(data, row...)
		}
		var inv mat.Dense
		if err := inv.Inverse(mat.NewDense(n, n, data)); err != nil {
			return nil, fmt.Errorf("covariance matrix is not invertible: %w", err)
		}
		return &inv, nil
	case len(c.Diagonal) > 0:
		if len(c.Diagonal) != n {
			return nil, fmt.Errorf("covariance diagonal has %d entries, want %d", len(c.Diagonal), n)
		}
		inv := mat.NewDense(n, n, nil)
		for i, v := range c.Diagonal {
			if v <= 0 {
				return nil, fmt.Errorf("covariance diagonal entry %d is %g, must be positive", i, v)
			}
			inv.Set(i, i, 1/v)
		}
		return inv, nil
	case c.Scalar > 0:
		inv := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			inv.Set(i, i, 1/c.Scalar)
		}
		return inv, nil
	default:
		return nil, fmt.Errorf("covariance is empty")
	}
}

// Problem is everything an algorithm needs to run.
type Problem struct {
	Background       Vector
	BackgroundError  Covariance
	Observation      Vector
	ObservationError Covariance
	Operator         Hook

	Bounds                 []Bound
	MaximumNumberOfSteps   int
	CostDecrementTolerance float64
	DifferentialIncrement  float64
	CenteredDifference     bool

	// StoreSupplementary names the optional series to record.
	StoreSupplementary []string
	StoreBackground    bool
	StoreObservation   bool
	Observers          []Observer
}

// Validate checks dimensions and parameters.
func (p *Problem) Validate() error {
	if p.Operator == nil {
		return fmt.Errorf("%w: observation operator is not bound", ErrInvalidProblem)
	}
	if len(p.Background) == 0 {
		return fmt.Errorf("%w: background vector is empty", ErrInvalidProblem)
	}
	if len(p.Observation) == 0 {
		return fmt.Errorf("%w: observation vector is empty", ErrInvalidProblem)
	}
	if len(p.Bounds) != 0 && len(p.Bounds) != len(p.Background) {
		return fmt.Errorf("%w: %d bounds for a state of size %d", ErrInvalidProblem, len(p.Bounds), len(p.Background))
	}
	for i, b := range p.Bounds {
		if b.Lower != nil && b.Upper != nil && *b.Lower > *b.Upper {
			return fmt.Errorf("%w: bound %d has lower %g above upper %g", ErrInvalidProblem, i, *b.Lower, *b.Upper)
		}
	}
	if p.DifferentialIncrement <= 0 {
		return fmt.Errorf("%w: differential increment must be positive", ErrInvalidProblem)
	}
	for _, name := range p.StoreSupplementary {
		if !supplementary[name] {
			return fmt.Errorf("%w: unknown supplementary calculation %q", ErrInvalidProblem, name)
		}
	}
	for _, o := range p.Observers {
		if err := o.validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProblem, err)
		}
	}
	return nil
}

// clip projects x onto the bounds in place.
func (p *Problem) clip(x Vector) Vector {
	for i, b := range p.Bounds {
		if b.Lower != nil && x[i] < *b.Lower {
			x[i] = *b.Lower
		}
		if b.Upper != nil && x[i] > *b.Upper {
			x[i] = *b.Upper
		}
	}
	return x
}

// increment returns the finite-difference step for component value v.
func (p *Problem) increment(v float64) float64 {
	if v == 0 {
		return p.DifferentialIncrement
	}
	return p.DifferentialIncrement * math.Abs(v)
}
