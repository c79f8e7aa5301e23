// Package contracts embeds the OpenAPI document of the HTTP surface.
package contracts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed tenancy.yaml
var tenancyYAML []byte

// Name is the document name used by the docs routes.
const Name = "tenancy"

// Raw returns the embedded YAML.
func Raw() []byte {
	return tenancyYAML
}

// Load parses and validates the embedded document. Every call returns a fresh
// copy, so callers may mutate it.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(tenancyYAML)
	if err != nil {
		return nil, fmt.Errorf("load %s contract: %w", Name, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate %s contract: %w", Name, err)
	}
	return doc, nil
}
