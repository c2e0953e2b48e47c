// Package casemodel is the typed configuration tree describing one
// assimilation case. A Model carries defaults for every entry, a stable hook
// point for the observation operator, and builds the immutable Spec consumed
// by a session worker.
package casemodel

import (
	"errors"
	"fmt"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
)

var (
	// ErrInvalidCase is returned when a model cannot be built into a spec.
	ErrInvalidCase = errors.New("invalid case")

	// ErrSpecConsumed is returned when a spec is handed to a second worker.
	ErrSpecConsumed = errors.New("case specification already consumed")
)

// Default values
const (
	DefaultBackgroundErrorScalar  = 1e10
	DefaultObservationErrorScalar = 1.0
	DefaultObserverVariable       = algorithm.SeriesCurrentState
	DefaultObserverTemplate       = algorithm.TemplateValuePrinter
)

// DefaultStoreSupplementaryCalculations is the list stored when a case does not choose one.
var DefaultStoreSupplementaryCalculations = []string{
	"CostFunctionJAtCurrentOptimum",
	"CostFunctionJoAtCurrentOptimum",
	"CurrentOptimum",
	"SimulatedObservationAtCurrentOptimum",
	"SimulatedObservationAtOptimum",
}

// Model is the root of a case.
type Model struct {
	Name                string              `json:"name,omitempty" yaml:"name,omitempty"`
	AlgorithmParameters AlgorithmParameters `json:"algorithm_parameters" yaml:"algorithm_parameters"`
	Background          StateVector         `json:"background" yaml:"background"`
	BackgroundError     ErrorCovariance     `json:"background_error" yaml:"background_error"`
	Observation         StateVector         `json:"observation" yaml:"observation"`
	ObservationError    ErrorCovariance     `json:"observation_error" yaml:"observation_error"`
	ObservationOperator ObservationOperator `json:"observation_operator" yaml:"observation_operator"`
	Observer            *Observer           `json:"observer,omitempty" yaml:"observer,omitempty"`
}

// AlgorithmParameters selects the algorithm and its tuning.
type AlgorithmParameters struct {
	Algorithm  algorithm.Name `json:"algorithm" yaml:"algorithm"`
	Parameters Parameters     `json:"parameters" yaml:"parameters"`
}

// Parameters tune the algorithm. Only StoreSupplementaryCalculations applies
// to Blue and LinearLeastSquares.
type Parameters struct {
	Bounds                         []algorithm.Bound `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	MaximumNumberOfSteps           int               `json:"maximum_number_of_steps,omitempty" yaml:"maximum_number_of_steps,omitempty"`
	CostDecrementTolerance         float64           `json:"cost_decrement_tolerance,omitempty" yaml:"cost_decrement_tolerance,omitempty"`
	StoreSupplementaryCalculations []string          `json:"store_supplementary_calculations,omitempty" yaml:"store_supplementary_calculations,omitempty"`
}

// StateVector is a background or observation vector.
type StateVector struct {
	Vector []float64 `json:"vector" yaml:"vector"`
	Stored bool      `json:"stored" yaml:"stored"`
}

// ErrorCovariance is one of a full matrix, a diagonal, or a scalar times the identity.
type ErrorCovariance struct {
	Matrix               [][]float64 `json:"matrix,omitempty" yaml:"matrix,omitempty"`
	ScalarSparseMatrix   float64     `json:"scalar_sparse_matrix,omitempty" yaml:"scalar_sparse_matrix,omitempty"`
	DiagonalSparseMatrix []float64   `json:"diagonal_sparse_matrix,omitempty" yaml:"diagonal_sparse_matrix,omitempty"`
}

// OperatorParameters tune the finite-difference linearization.
type OperatorParameters struct {
	DifferentialIncrement    float64 `json:"differential_increment,omitempty" yaml:"differential_increment,omitempty"`
	CenteredFiniteDifference bool    `json:"centered_finite_difference" yaml:"centered_finite_difference"`
}

// ObservationOperator holds the hook point for the evaluation function.
type ObservationOperator struct {
	Parameters OperatorParameters `json:"parameters" yaml:"parameters"`

	// InputFunctionAsMulti is always true: the operator receives batches.
	InputFunctionAsMulti bool `json:"input_function_as_multi" yaml:"input_function_as_multi"`

	oneFunction algorithm.Hook
}

// Observer prints a variable every time the algorithm stores it.
type Observer struct {
	Variable string  `json:"variable" yaml:"variable"`
	Template string  `json:"template" yaml:"template"`
	String   *string `json:"string,omitempty" yaml:"string,omitempty"`
	Info     *string `json:"info,omitempty" yaml:"info,omitempty"`
}

// Default returns a model with every entry at its default value.
func Default() *Model {
	return &Model{
		AlgorithmParameters: AlgorithmParameters{
			Algorithm: algorithm.ThreeDVar,
			Parameters: Parameters{
				MaximumNumberOfSteps:           algorithm.DefaultMaximumNumberOfSteps,
				CostDecrementTolerance:         algorithm.DefaultCostDecrementTolerance,
				StoreSupplementaryCalculations: append([]string(nil), DefaultStoreSupplementaryCalculations...),
			},
		},
		Background:       StateVector{Stored: true},
		BackgroundError:  ErrorCovariance{ScalarSparseMatrix: DefaultBackgroundErrorScalar},
		Observation:      StateVector{Stored: false},
		ObservationError: ErrorCovariance{ScalarSparseMatrix: DefaultObservationErrorScalar},
		ObservationOperator: ObservationOperator{
			Parameters: OperatorParameters{
				DifferentialIncrement: algorithm.DefaultDifferentialIncrement,
			},
			InputFunctionAsMulti: true,
		},
		Observer: &Observer{
			Variable: DefaultObserverVariable,
			Template: DefaultObserverTemplate,
		},
	}
}

// BindHook installs the evaluation function at the observation operator's hook point.
func (m *Model) BindHook(hook algorithm.Hook) {
	m.ObservationOperator.oneFunction = hook
}

// HookBound reports whether an evaluation function has been installed.
func (m *Model) HookBound() bool {
	return m.ObservationOperator.oneFunction != nil
}

// SetInputFunctionAsMulti exists for symmetry with the other entries; only
// batched evaluation is supported.
func (o *ObservationOperator) SetInputFunctionAsMulti(v bool) error {
	if !v {
		return fmt.Errorf("%w: InputFunctionAsMulti can only be true", ErrInvalidCase)
	}
	o.InputFunctionAsMulti = true
	return nil
}

func (c ErrorCovariance) covariance() algorithm.Covariance {
	return algorithm.Covariance{
		Matrix:   c.Matrix,
		Diagonal: c.DiagonalSparseMatrix,
		Scalar:   c.ScalarSparseMatrix,
	}
}
