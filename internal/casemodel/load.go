package casemodel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/HyphaGroup/assimilate/internal/algorithm"
	"github.com/HyphaGroup/assimilate/internal/config"
)

var (
	schemaOnce     sync.Once
	schema         *jsonschema.Schema
	resolvedSchema *jsonschema.Resolved
	schemaErr      error
)

// Schema returns the JSON schema case documents are validated against.
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.For[Model](nil)
		if schemaErr != nil {
			return
		}
		relaxRequired(schema)
		schema.Required = []string{"background", "observation"}
		for _, key := range []string{"background", "observation"} {
			if prop := schema.Properties[key]; prop != nil {
				prop.Required = []string{"vector"}
			}
		}
		if ap := schema.Properties["algorithm_parameters"]; ap != nil {
			if alg := ap.Properties["algorithm"]; alg != nil {
				for _, name := range algorithm.Names {
					alg.Enum = append(alg.Enum, string(name))
				}
			}
		}
		resolvedSchema, schemaErr = schema.Resolve(nil)
	})
	return schema, schemaErr
}

// relaxRequired clears required lists: every entry of a case document has a default.
func relaxRequired(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	s.Required = nil
	for _, prop := range s.Properties {
		relaxRequired(prop)
	}
	relaxRequired(s.Items)
}

// Parse decodes a JSON case document on top of the defaults. Comments are
// allowed.
func Parse(data []byte) (*Model, error) {
	data = config.StripJSONComments(data)

	if _, err := Schema(); err != nil {
		return nil, fmt.Errorf("building case schema: %w", err)
	}
	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}
	if err := resolvedSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}

	m := Default()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseYAML decodes a YAML case document on top of the defaults.
func ParseYAML(data []byte) (*Model, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCase, err)
	}
	return Parse(asJSON)
}

// Load reads a case file. The format follows the extension: .yaml and .yml
// are YAML, anything else is JSON with comments.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading case file: %w", err)
	}

	var m *Model
	if isYAML(path) {
		m, err = ParseYAML(data)
	} else {
		m, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// Save writes the model to path in the format implied by its extension.
func (m *Model) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(m)
	} else {
		data, err = json.MarshalIndent(m, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding case: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing case file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
