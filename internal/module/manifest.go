package module

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Module is the executable side of a contract: the pipeline builder binds
// a Context against Contract() once per tick and then calls Cycle.
type Module interface {
	Contract() Contract
	Cycle(ctx *Context) error
}

// fieldManifest is the YAML shape of one declared accessor field.
type fieldManifest struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// contractManifest is the on-disk declarative form of a Contract, used to
// describe a module's wiring surface independently of its Go
// implementation (e.g. for tooling that inspects a pipeline's module
// graph without loading the modules themselves).
type contractManifest struct {
	Module     string          `yaml:"module"`
	Inputs     []fieldManifest `yaml:"inputs"`
	Outputs    []fieldManifest `yaml:"outputs"`
	Parameters []fieldManifest `yaml:"parameters"`
}

// ParseContractManifest decodes a YAML contract declaration into a
// Contract, validating it before returning.
func ParseContractManifest(data []byte) (Contract, error) {
	var m contractManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Contract{}, fmt.Errorf("module: decode contract manifest: %w", err)
	}
	c := Contract{ModuleName: m.Module}
	for _, f := range m.Inputs {
		c.Inputs = append(c.Inputs, NewFieldSpec(f.Name, f.Path))
	}
	for _, f := range m.Outputs {
		c.Outputs = append(c.Outputs, NewFieldSpec(f.Name, f.Path))
	}
	for _, f := range m.Parameters {
		c.Parameters = append(c.Parameters, NewFieldSpec(f.Name, f.Path))
	}
	if err := c.Validate(); err != nil {
		return Contract{}, err
	}
	return c, nil
}

// MarshalManifest renders a Contract back to its YAML declarative form,
// the inverse of ParseContractManifest.
func MarshalManifest(c Contract) ([]byte, error) {
	m := contractManifest{Module: c.ModuleName}
	for _, f := range c.Inputs {
		m.Inputs = append(m.Inputs, fieldManifest{Name: f.Name, Path: f.Path.String()})
	}
	for _, f := range c.Outputs {
		m.Outputs = append(m.Outputs, fieldManifest{Name: f.Name, Path: f.Path.String()})
	}
	for _, f := range c.Parameters {
		m.Parameters = append(m.Parameters, fieldManifest{Name: f.Name, Path: f.Path.String()})
	}
	return yaml.Marshal(m)
}
