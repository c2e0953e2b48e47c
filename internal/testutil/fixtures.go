package testutil

import (
	"path/filepath"
	"testing"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/casemodel"
)

func ptr[T any](v T) *T {
	return &v
}

// CaseOption is a function that modifies a case model for testing.
type CaseOption func(*casemodel.Model)

// NewLinearCase returns the three-parameter linear case: background
// (5, 7, 9), observation (2, 6, 12, 20), bounded, answered by the linear
// builtin with analysis (2, 3, 4).
func NewLinearCase(t *testing.T, opts ...CaseOption) *casemodel.Model {
	t.Helper()

	m := casemodel.Default()
	m.Name = "linear-" + filepath.Base(t.Name())
	m.Background.Vector = []float64{5, 7, 9}
	m.Observation.Vector = []float64{2, 6, 12, 20}
	m.AlgorithmParameters.Parameters.Bounds = []algorithm.Bound{
		{Lower: ptr(0.0), Upper: ptr(10.0)},
		{Lower: ptr(3.0), Upper: ptr(13.0)},
		{Lower: ptr(1.5), Upper: ptr(15.5)},
	}
	m.Observer = nil

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFloodCase returns the flood case: a single Strickler coefficient with
// background 20 estimated from four water heights, analysis close to 25.
func NewFloodCase(t *testing.T, opts ...CaseOption) *casemodel.Model {
	t.Helper()

	m := casemodel.Default()
	m.Name = "flood-" + filepath.Base(t.Name())
	m.Background.Vector = []float64{20}
	m.BackgroundError = casemodel.ErrorCovariance{Matrix: [][]float64{{5e10}}}
	m.Observation.Vector = []float64{0.19694513, 0.298513, 0.38073079, 0.45246109}
	m.ObservationError = casemodel.ErrorCovariance{ScalarSparseMatrix: 0.5}
	m.Observer = nil

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithAlgorithm selects the algorithm.
func WithAlgorithm(name algorithm.Name) CaseOption {
	return func(m *casemodel.Model) {
		m.AlgorithmParameters.Algorithm = name
	}
}

// WithMaximumNumberOfSteps caps the iterations of iterative algorithms.
func WithMaximumNumberOfSteps(n int) CaseOption {
	return func(m *casemodel.Model) {
		m.AlgorithmParameters.Parameters.MaximumNumberOfSteps = n
	}
}

// WithCenteredDifference switches the linearization to centered differences.
func WithCenteredDifference() CaseOption {
	return func(m *casemodel.Model) {
		m.ObservationOperator.Parameters.CenteredFiniteDifference = true
	}
}

// WithCaseName sets the case name.
func WithCaseName(name string) CaseOption {
	return func(m *casemodel.Model) {
		m.Name = name
	}
}

// WriteCaseFile saves m under dir with the given file name and returns the path.
func WriteCaseFile(t *testing.T, dir, name string, m *casemodel.Model) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := m.Save(path); err != nil {
		t.Fatalf("saving case file: %v", err)
	}
	return path
}
