// Package demomodules provides small, non-domain-specific modules that
// exercise the pipeline builder and cycler runtime end to end: a
// producer that counts its own ticks and a consumer that reads another
// cycler's output across the module graph. Real vision/control
// algorithms are out of scope (spec.md's non-goals exclude domain
// modules); these exist purely to give the scheduler and its tests a
// concrete, runnable pipeline.
package demomodules

import (
	"github.com/fieldcycler/runtime/internal/module"
	"github.com/fieldcycler/runtime/internal/valuetree"
)

// Counter is a RealTime module with no inputs that increments its own
// tick count and publishes it under its own instance as "count".
type Counter struct {
	n float64
}

func (c *Counter) Contract() module.Contract {
	return module.Contract{
		ModuleName: "demomodules.Counter",
		Outputs:    []module.FieldSpec{module.NewFieldSpec("count", "$cycler_instance/count")},
	}
}

func (c *Counter) Cycle(ctx *module.Context) error {
	c.n++
	return ctx.SetOutput("count", valuetree.Number(c.n))
}

// Doubler is a RealTime module that reads another cycler's "count"
// output and republishes it doubled, exercising a cross-cycler producer
// -> consumer edge in the pipeline builder's graph.
type Doubler struct {
	SourceCycler string // the CyclerName that owns the "count" output this reads
}

func (d *Doubler) Contract() module.Contract {
	return module.Contract{
		ModuleName: "demomodules.Doubler",
		Inputs:     []module.FieldSpec{module.NewFieldSpec("count", d.SourceCycler+"/$cycler_instance/count?")},
		Outputs:    []module.FieldSpec{module.NewFieldSpec("doubled", "$cycler_instance/doubled")},
	}
}

func (d *Doubler) Cycle(ctx *module.Context) error {
	v, ok := ctx.Input("count")
	if !ok {
		return ctx.SetOutput("doubled", valuetree.Number(0))
	}
	n, _ := v.Number()
	return ctx.SetOutput("doubled", valuetree.Number(n*2))
}
