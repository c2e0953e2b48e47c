package casemodel

import (
	"fmt"
	"strings"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
)

// HookVariable is the name the evaluation function takes in a rendered script.
const HookVariable = "evaluate"

type scriptEntry struct {
	key  string
	dict string
}

// Script renders the model as the builder script understood by ADAO's
// adaoBuilder: one case.set call per top-level entry, in a fixed order.
func (m *Model) Script() string {
	var b strings.Builder
	b.WriteString("from adao import adaoBuilder\n")
	b.WriteString("case = adaoBuilder.New()\n")

	entries := []scriptEntry{
		{"AlgorithmParameters", m.algorithmDict()},
		{"Background", stateDict(m.Background)},
		{"BackgroundError", covarianceDict(m.BackgroundError)},
		{"Observation", stateDict(m.Observation)},
		{"ObservationError", covarianceDict(m.ObservationError)},
		{"ObservationOperator", m.operatorDict()},
	}
	if m.Observer != nil {
		entries = append(entries, scriptEntry{"Observer", observerDict(*m.Observer)})
	}

	for _, e := range entries {
		fmt.Fprintf(&b, "case.set('%s' , **%s)\n", e.key, e.dict)
	}
	return b.String()
}

func (m *Model) algorithmDict() string {
	ap := m.AlgorithmParameters
	params := []string{}
	if ap.Algorithm != algorithm.Blue {
		params = append(params,
			pair("Bounds", pyBounds(ap.Parameters.Bounds)),
			pair("MaximumNumberOfSteps", fmt.Sprintf("%d", ap.Parameters.MaximumNumberOfSteps)),
			pair("CostDecrementTolerance", pyFloat(ap.Parameters.CostDecrementTolerance)),
		)
	}
	params = append(params, pair("StoreSupplementaryCalculations", pyStrings(ap.Parameters.StoreSupplementaryCalculations)))

	return dict(
		pair("Algorithm", pyString(string(ap.Algorithm))),
		pair("Parameters", dict(params...)),
	)
}

func stateDict(s StateVector) string {
	return dict(
		pair("Vector", pyVector(s.Vector)),
		pair("Stored", pyBool(s.Stored)),
	)
}

func covarianceDict(c ErrorCovariance) string {
	matrix := "None"
	if len(c.Matrix) > 0 {
		rows := make([]string, len(c.Matrix))
		for i, row := range c.Matrix {
			rows[i] = pyVector(row)
		}
		matrix = "[ " + strings.Join(rows, ", ") + " ]"
	}
	return dict(
		pair("Matrix", matrix),
		pair("ScalarSparseMatrix", pyFloat(c.ScalarSparseMatrix)),
		pair("DiagonalSparseMatrix", pyVector(c.DiagonalSparseMatrix)),
	)
}

func (m *Model) operatorDict() string {
	op := m.ObservationOperator
	fn := "None"
	if m.HookBound() {
		fn = HookVariable
	}
	return dict(
		pair("OneFunction", fn),
		pair("Parameters", dict(
			pair("DifferentialIncrement", pyFloat(op.Parameters.DifferentialIncrement)),
			pair("CenteredFiniteDifference", pyBool(op.Parameters.CenteredFiniteDifference)),
		)),
		pair("InputFunctionAsMulti", pyBool(op.InputFunctionAsMulti)),
	)
}

func observerDict(o Observer) string {
	optional := func(s *string) string {
		if s == nil {
			return "None"
		}
		return pyString(*s)
	}
	return dict(
		pair("Variable", pyString(o.Variable)),
		pair("Template", pyString(o.Template)),
		pair("String", optional(o.String)),
		pair("Info", optional(o.Info)),
	)
}

func dict(pairs ...string) string {
	return "{ " + strings.Join(pairs, ", ") + " }"
}

func pair(key, value string) string {
	return fmt.Sprintf("%q : %s", key, value)
}

func pyString(s string) string {
	return fmt.Sprintf("%q", s)
}

func pyBool(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func pyFloat(v float64) string {
	return fmt.Sprintf("%e", v)
}

func pyVector(v []float64) string {
	if v == nil {
		return "None"
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = pyFloat(x)
	}
	return "[ " + strings.Join(parts, ", ") + " ]"
}

func pyStrings(v []string) string {
	parts := make([]string, len(v))
	for i, s := range v {
		parts[i] = pyString(s)
	}
	return "[ " + strings.Join(parts, ", ") + " ]"
}

func pyBounds(bounds []algorithm.Bound) string {
	if len(bounds) == 0 {
		return "None"
	}
	side := func(v *float64) string {
		if v == nil {
			return "None"
		}
		return pyFloat(*v)
	}
	parts := make([]string, len(bounds))
	for i, b := range bounds {
		parts[i] = "[ " + side(b.Lower) + ", " + side(b.Upper) + " ]"
	}
	return "[ " + strings.Join(parts, ", ") + " ]"
}
