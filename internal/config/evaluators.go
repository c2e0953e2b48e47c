package config

import (
	"fmt"
	"sort"

	"github.com/docker/go-units"

	"github.com/HyphaGroup/assimilate/internal/validation"
)

// Evaluator types
const (
	EvaluatorBuiltin   = "builtin"
	EvaluatorContainer = "container"
)

// Builtin evaluator names
const (
	BuiltinIdentity = "identity"
	BuiltinLinear   = "linear"
	BuiltinFlood    = "flood"
)

// EvaluatorDefinition describes how a run's callouts are answered.
type EvaluatorDefinition struct {
	Type    string `json:"type"`
	Builtin string `json:"builtin,omitempty"`

	// Container evaluators exec Command inside a running container, or
	// create one from Image when ContainerID is empty.
	ContainerID string   `json:"container_id,omitempty"`
	Image       string   `json:"image,omitempty"`
	Command     []string `json:"command,omitempty"`
	Memory      string   `json:"memory,omitempty"`
	CPUs        int      `json:"cpus,omitempty"`

	// RateLimit caps evaluations per second; zero means unlimited.
	RateLimit float64 `json:"rate_limit,omitempty"`
	Burst     int     `json:"burst,omitempty"`

	Description string `json:"description,omitempty"`
}

// EvaluatorInfo is the listing form of a definition.
type EvaluatorInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// BuiltinEvaluators are always present unless the file overrides the name.
func BuiltinEvaluators() map[string]EvaluatorDefinition {
	return map[string]EvaluatorDefinition{
		BuiltinIdentity: {Type: EvaluatorBuiltin, Builtin: BuiltinIdentity, Description: "returns each input unchanged"},
		BuiltinLinear:   {Type: EvaluatorBuiltin, Builtin: BuiltinLinear, Description: "returns x0, 2*x1, 3*x2 and their sum"},
		BuiltinFlood:    {Type: EvaluatorBuiltin, Builtin: BuiltinFlood, Description: "water height of the flood model at four discharges"},
	}
}

// Validate checks a single definition.
func (d EvaluatorDefinition) Validate() error {
	switch d.Type {
	case EvaluatorBuiltin:
		if _, ok := BuiltinEvaluators()[d.Builtin]; !ok {
			return fmt.Errorf("unknown builtin %q", d.Builtin)
		}
	case EvaluatorContainer:
		if d.ContainerID == "" && d.Image == "" {
			return fmt.Errorf("container evaluator needs container_id or image")
		}
		if d.ContainerID != "" {
			if err := validation.ValidateContainerRef(d.ContainerID); err != nil {
				return err
			}
		}
		if len(d.Command) == 0 {
			return fmt.Errorf("container evaluator needs a command")
		}
		if d.Memory != "" {
			if _, err := units.RAMInBytes(d.Memory); err != nil {
				return fmt.Errorf("invalid memory limit %q", d.Memory)
			}
		}
	default:
		return fmt.Errorf("unknown evaluator type %q", d.Type)
	}
	if d.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// ListEvaluators returns the configured evaluators sorted by name.
func ListEvaluators(defs map[string]EvaluatorDefinition) []EvaluatorInfo {
	infos := make([]EvaluatorInfo, 0, len(defs))
	for name, def := range defs {
		infos = append(infos, EvaluatorInfo{Name: name, Type: def.Type, Description: def.Description})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
