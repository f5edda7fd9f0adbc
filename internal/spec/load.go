package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a pipeline manifest from a YAML file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a manifest from raw YAML bytes.
func Parse(data []byte) (*Pipeline, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}

	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
