package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a workspace spec document and validates it.
func Parse(data []byte) (*WorkspaceSpec, error) {
	var w WorkspaceSpec
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing workspace spec: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workspace spec: %w", err)
	}
	return &w, nil
}

// Load reads and validates a workspace spec from a YAML file.
func Load(path string) (*WorkspaceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workspace spec %s: %w", path, err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// ParseBundle decodes a spec bundle document and validates it.
func ParseBundle(data []byte) (*SpecBundle, error) {
	var b SpecBundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parsing spec bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid spec bundle: %w", err)
	}
	return &b, nil
}

// LoadBundle reads and validates a spec bundle from a YAML file.
func LoadBundle(path string) (*SpecBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spec bundle %s: %w", path, err)
	}
	b, err := ParseBundle(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}
