package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a scenario file. YAML and JSON are both accepted
// (JSON is a YAML subset). The result is validated; an invalid file returns
// the full list of problems, not just the first.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	scenario, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return scenario, nil
}

// Parse parses scenario file contents and validates them.
func Parse(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}

	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}
