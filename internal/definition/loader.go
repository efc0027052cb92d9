package definition

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a pipeline definition file.
func Load(path string) (*Document, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("definition file not found: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse schema-validates definition YAML and unmarshals it. Structural
// problems (unknown keys, missing required fields, malformed durations)
// surface here with schema paths; semantic problems (bad when clauses,
// conflicting step forms) surface in Build.
func Parse(data []byte) (*Document, error) {
	violations, err := validateSchema(data)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return nil, fmt.Errorf("definition is not valid:\n  %s", strings.Join(violations, "\n  "))
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return &doc, nil
}
