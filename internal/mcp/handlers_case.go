package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/casemodel"
	"github.com/HyphaGroup/assimilate/internal/evaluator"
)

// CaseParams is the params struct for the case tool
type CaseParams struct {
	Action   string         `json:"action" jsonschema:"validate, render or schema"`
	CaseFile string         `json:"case_file,omitempty" jsonschema:"case file relative to the cases directory"`
	Case     map[string]any `json:"case,omitempty" jsonschema:"inline case document"`
}

// CaseReport describes a validated case.
type CaseReport struct {
	Valid           bool           `json:"valid"`
	Name            string         `json:"name,omitempty"`
	Algorithm       algorithm.Name `json:"algorithm,omitempty"`
	StateSize       int            `json:"state_size,omitempty"`
	ObservationSize int            `json:"observation_size,omitempty"`
	Bounded         bool           `json:"bounded,omitempty"`
	Error           string         `json:"error,omitempty"`
}

var caseActions = actionList{"case", []string{"validate", "render", "schema"}}

func (s *Server) handleCase(ctx context.Context, request *mcp.CallToolRequest, params *CaseParams) (*mcp.CallToolResult, any, error) {
	if params.Action == "" {
		return nil, nil, caseActions.missing()
	}

	switch params.Action {
	case "validate":
		return s.caseValidate(params)
	case "render":
		return s.caseRender(params)
	case "schema":
		schema, err := casemodel.Schema()
		if err != nil {
			return nil, nil, SanitizeError(err, "case schema")
		}
		return nil, schema, nil
	default:
		return nil, nil, caseActions.unknown(params.Action)
	}
}

func (s *Server) caseValidate(params *CaseParams) (*mcp.CallToolResult, any, error) {
	m, err := s.loadCase(params.CaseFile, params.Case)
	if err != nil {
		if errors.Is(err, casemodel.ErrInvalidCase) {
			return nil, &CaseReport{Valid: false, Error: err.Error()}, nil
		}
		return nil, nil, SanitizeError(err, "case validate")
	}
	m.BindHook(evaluator.Hook(evaluator.Identity))
	if _, err := m.Build(); err != nil {
		return nil, &CaseReport{Valid: false, Name: m.Name, Error: err.Error()}, nil
	}

	ap := m.AlgorithmParameters
	return nil, &CaseReport{
		Valid:           true,
		Name:            m.Name,
		Algorithm:       ap.Algorithm,
		StateSize:       len(m.Background.Vector),
		ObservationSize: len(m.Observation.Vector),
		Bounded:         ap.Algorithm.Iterative() && len(ap.Parameters.Bounds) > 0,
	}, nil
}

func (s *Server) caseRender(params *CaseParams) (*mcp.CallToolResult, any, error) {
	m, err := s.loadCase(params.CaseFile, params.Case)
	if err != nil {
		return nil, nil, SanitizeError(err, "case render")
	}
	script := m.Script()
	if m.Name != "" {
		script = fmt.Sprintf("# case: %s\n%s", m.Name, script)
	}
	return textResult(script), nil, nil
}
