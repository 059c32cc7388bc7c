package module

import (
	"fmt"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

// Context is a module's bound view for one tick: its declared inputs and
// parameters resolved against the current trees, plus a place to stage
// the outputs it writes before the cycler runtime publishes them.
type Context struct {
	contract Contract
	instance string
	inputs   map[string]valuetree.Value
	params   map[string]valuetree.Value
	outputs  map[string]valuetree.Value
}

// Bind resolves every declared input and parameter field of contract
// against inputRoot/paramRoot for the given running instance, implementing
// spec.md 4.C5's context-binding step. A required (non-optional) field
// that fails to resolve is an error; an optional field that fails to
// resolve binds to Null so the module can observe its absence.
func Bind(contract Contract, instance string, inputRoot, paramRoot valuetree.Value) (*Context, error) {
	if err := contract.Validate(); err != nil {
		return nil, err
	}
	ctx := &Context{
		contract: contract,
		instance: instance,
		inputs:   make(map[string]valuetree.Value, len(contract.Inputs)),
		params:   make(map[string]valuetree.Value, len(contract.Parameters)),
		outputs:  make(map[string]valuetree.Value, len(contract.Outputs)),
	}
	for _, f := range contract.Inputs {
		v, ok := f.Path.Resolve(inputRoot, instance)
		if !ok {
			if f.Path.HasOptional() {
				ctx.inputs[f.Name] = valuetree.Null()
				continue
			}
			return nil, fmt.Errorf("module %s: required input %q (%s) did not resolve", contract.ModuleName, f.Name, f.Path.String())
		}
		ctx.inputs[f.Name] = v
	}
	for _, f := range contract.Parameters {
		v, ok := f.Path.Resolve(paramRoot, instance)
		if !ok {
			if f.Path.HasOptional() {
				ctx.params[f.Name] = valuetree.Null()
				continue
			}
			return nil, fmt.Errorf("module %s: required parameter %q (%s) did not resolve", contract.ModuleName, f.Name, f.Path.String())
		}
		ctx.params[f.Name] = v
	}
	return ctx, nil
}

// Input returns the resolved value bound to a declared input field name.
func (c *Context) Input(name string) (valuetree.Value, bool) {
	v, ok := c.inputs[name]
	return v, ok
}

// Parameter returns the resolved value bound to a declared parameter
// field name.
func (c *Context) Parameter(name string) (valuetree.Value, bool) {
	v, ok := c.params[name]
	return v, ok
}

// SetOutput stages a value for a declared output field name. Returns an
// error if name was not declared as an output in the contract.
func (c *Context) SetOutput(name string, v valuetree.Value) error {
	declared := false
	for _, f := range c.contract.Outputs {
		if f.Name == name {
			declared = true
			break
		}
	}
	if !declared {
		return fmt.Errorf("module %s: %q is not a declared output", c.contract.ModuleName, name)
	}
	c.outputs[name] = v
	return nil
}

// Materialize builds the object tree produced by this tick's staged
// outputs, with each output's value inserted at its declared path
// (variable segments expanded against the bound instance). A declared
// output that was never set via SetOutput this tick is omitted.
func (c *Context) Materialize() valuetree.Value {
	root := valuetree.Object(nil)
	for _, f := range c.contract.Outputs {
		v, ok := c.outputs[f.Name]
		if !ok {
			continue
		}
		root = setAtPath(root, f.Path.Segments, c.instance, v)
	}
	return root
}

func setAtPath(root valuetree.Value, segments []valuetree.Segment, instance string, value valuetree.Value) valuetree.Value {
	if len(segments) == 0 {
		return value
	}
	seg := segments[0]
	name := seg.Name
	if seg.Kind == valuetree.SegmentVariable {
		name = instance
	}
	child, _ := root.Field(name)
	updated := setAtPath(child, segments[1:], instance, value)
	return root.WithField(name, updated)
}
