package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is an optional YAML file listing items, kept apart from the main
// config so it can be generated or shared.
type Catalog struct {
	Projects  []ProjectConfig  `yaml:"projects"`
	Databases []DatabaseConfig `yaml:"databases"`
}

// ReadCatalog decodes a Catalog. Unknown keys are rejected.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cat Catalog
	if err := dec.Decode(&cat); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return &cat, nil
}

// ReadCatalogFile reads a Catalog from path.
func ReadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	cat, err := ReadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("reading catalog from %s: %w", path, err)
	}
	return cat, nil
}
