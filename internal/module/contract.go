// Package module implements the module contract and context binding of
// spec.md 4.C5: a declarative description of what a cycler module reads
// and writes, interpreted against a valuetree.Value at bind time rather
// than compiled into generated accessor code (spec.md 9's design note
// prefers the data-driven interpreter over codegen).
package module

import (
	"fmt"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

// FieldSpec names one accessor a module declares: the field name the
// module's code uses to address it, and the tree path it resolves to.
type FieldSpec struct {
	Name string
	Path valuetree.Path
}

// Contract is a module's full declared surface: what it reads from
// other cyclers' outputs, what it writes, and what parameters it reads.
type Contract struct {
	ModuleName string
	Inputs     []FieldSpec
	Outputs    []FieldSpec
	Parameters []FieldSpec
}

// NewFieldSpec parses a raw "/"-separated accessor path into a FieldSpec.
func NewFieldSpec(name, rawPath string) FieldSpec {
	return FieldSpec{Name: name, Path: valuetree.ParsePath(rawPath)}
}

// Validate checks that no field name is declared twice within the same
// section, and that every output is a literal or variable path (a module
// may not write to an optional path, since there would be no way to
// decide whether to create the intervening object).
func (c Contract) Validate() error {
	if err := validateUnique("input", c.Inputs); err != nil {
		return err
	}
	if err := validateUnique("output", c.Outputs); err != nil {
		return err
	}
	if err := validateUnique("parameter", c.Parameters); err != nil {
		return err
	}
	for _, o := range c.Outputs {
		if o.Path.HasOptional() {
			return fmt.Errorf("module %s: output %q: optional segments are not writable", c.ModuleName, o.Name)
		}
	}
	return nil
}

func validateUnique(section string, fields []FieldSpec) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate %s field name %q", section, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}
