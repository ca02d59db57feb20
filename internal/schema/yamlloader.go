package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// fileSchema is the YAML document shape for external schema definitions.
type fileSchema struct {
	Groups []QuestionGroup `yaml:"groups"`
	Fields []FieldSpec     `yaml:"fields"`
}

// LoadYAML reads a schema definition from the YAML file at path and returns
// a validated [Registry]. Used to override the built-in form schema without
// recompiling.
func LoadYAML(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open %q: %w", path, err)
	}
	defer f.Close()

	reg, err := LoadYAMLFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("schema: parse %q: %w", path, err)
	}
	return reg, nil
}

// LoadYAMLFromReader decodes a schema definition from r and validates it.
// Useful in tests where schemas are constructed from string literals.
func LoadYAMLFromReader(r io.Reader) (*Registry, error) {
	var doc fileSchema
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return New(doc.Groups, doc.Fields)
}
