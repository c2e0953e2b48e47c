package casemodel

import (
	"fmt"
	"sync/atomic"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
)

// Spec is the immutable, validated form of a Model. It is handed to exactly
// one worker.
type Spec struct {
	Name      string
	Algorithm algorithm.Name

	problem  algorithm.Problem
	consumed atomic.Bool
}

// Build validates the model and snapshots it into a Spec. The hook must be
// bound first.
func (m *Model) Build() (*Spec, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if !m.HookBound() {
		return nil, fmt.Errorf("%w: observation operator has no evaluation function bound", ErrInvalidCase)
	}

	params := m.AlgorithmParameters.Parameters
	p := algorithm.Problem{
		Background:             append(algorithm.Vector(nil), m.Background.Vector...),
		BackgroundError:        m.BackgroundError.covariance(),
		Observation:            append(algorithm.Vector(nil), m.Observation.Vector...),
		ObservationError:       m.ObservationError.covariance(),
		Operator:               m.ObservationOperator.oneFunction,
		DifferentialIncrement:  m.ObservationOperator.Parameters.DifferentialIncrement,
		CenteredDifference:     m.ObservationOperator.Parameters.CenteredFiniteDifference,
		StoreSupplementary:     append([]string(nil), params.StoreSupplementaryCalculations...),
		StoreBackground:        m.Background.Stored,
		StoreObservation:       m.Observation.Stored,
		MaximumNumberOfSteps:   params.MaximumNumberOfSteps,
		CostDecrementTolerance: params.CostDecrementTolerance,
	}
	if m.AlgorithmParameters.Algorithm.Iterative() {
		p.Bounds = append([]algorithm.Bound(nil), params.Bounds...)
	}
	if o := m.Observer; o != nil {
		obs := algorithm.Observer{Variable: o.Variable, Template: o.Template}
		if o.Info != nil {
			obs.Info = *o.Info
		}
		p.Observers = []algorithm.Observer{obs}
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}

	return &Spec{
		Name:      m.Name,
		Algorithm: m.AlgorithmParameters.Algorithm,
		problem:   p,
	}, nil
}

// Consume hands the problem to a worker. A spec can only be consumed once.
func (s *Spec) Consume() (*algorithm.Problem, error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return nil, ErrSpecConsumed
	}
	p := s.problem
	return &p, nil
}

// Consumed reports whether a worker already took the spec.
func (s *Spec) Consumed() bool {
	return s.consumed.Load()
}

// Validate checks the model without requiring a bound hook.
func (m *Model) Validate() error {
	ap := m.AlgorithmParameters
	if !ap.Algorithm.Valid() {
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidCase, ap.Algorithm)
	}
	if len(m.Background.Vector) == 0 {
		return fmt.Errorf("%w: background vector is required", ErrInvalidCase)
	}
	if len(m.Observation.Vector) == 0 {
		return fmt.Errorf("%w: observation vector is required", ErrInvalidCase)
	}
	if ap.Algorithm.Iterative() {
		if ap.Parameters.MaximumNumberOfSteps < 1 {
			return fmt.Errorf("%w: maximum number of steps must be at least 1", ErrInvalidCase)
		}
		if ap.Parameters.CostDecrementTolerance <= 0 {
			return fmt.Errorf("%w: cost decrement tolerance must be positive", ErrInvalidCase)
		}
		if n := len(ap.Parameters.Bounds); n != 0 && n != len(m.Background.Vector) {
			return fmt.Errorf("%w: %d bounds for a background of size %d", ErrInvalidCase, n, len(m.Background.Vector))
		}
	}
	if !m.ObservationOperator.InputFunctionAsMulti {
		return fmt.Errorf("%w: InputFunctionAsMulti can only be true", ErrInvalidCase)
	}
	if m.ObservationOperator.Parameters.DifferentialIncrement <= 0 {
		return fmt.Errorf("%w: differential increment must be positive", ErrInvalidCase)
	}
	if m.Observer != nil && m.Observer.String != nil {
		return fmt.Errorf("%w: observer code strings are not supported, use a template", ErrInvalidCase)
	}
	return nil
}
