package demomodules

import (
	"testing"

	"github.com/fieldcycler/runtime/internal/module"
	"github.com/fieldcycler/runtime/internal/pipeline"
	"github.com/fieldcycler/runtime/internal/valuetree"
)

func TestCounterIncrementsOncePerCycle(t *testing.T) {
	c := &Counter{}
	for i := 1; i <= 3; i++ {
		ctx, err := module.Bind(c.Contract(), "main", valuetree.Object(nil), valuetree.Object(nil))
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Cycle(ctx); err != nil {
			t.Fatal(err)
		}
		out, _ := ctx.Materialize().Field("main")
		v, _ := out.Field("count")
		if n, _ := v.Number(); n != float64(i) {
			t.Fatalf("tick %d: expected count %d, got %v", i, i, n)
		}
	}
}

func TestDoublerReadsCrossCyclerCount(t *testing.T) {
	d := &Doubler{SourceCycler: "Clock"}
	inputRoot := valuetree.Object(map[string]valuetree.Value{
		"Clock": valuetree.Object(map[string]valuetree.Value{
			"main": valuetree.Object(map[string]valuetree.Value{"count": valuetree.Number(5)}),
		}),
	})
	ctx, err := module.Bind(d.Contract(), "main", inputRoot, valuetree.Object(nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Cycle(ctx); err != nil {
		t.Fatal(err)
	}
	out, _ := ctx.Materialize().Field("main")
	v, _ := out.Field("doubled")
	if n, _ := v.Number(); n != 10 {
		t.Fatalf("expected doubled=10, got %v", n)
	}
}

func TestCounterAndDoublerFormAValidPipelinePlan(t *testing.T) {
	nodes := []pipeline.Node{
		{CyclerName: "Clock", Instance: "main", Module: &Counter{}},
		{CyclerName: "Control", Instance: "main", Module: &Doubler{SourceCycler: "Clock"}},
	}
	plan, err := pipeline.Build(nodes)
	if err != nil {
		t.Fatal(err)
	}
	order := plan.OrderedNodes()
	if len(order) != 2 || order[0].CyclerName != "Clock" || order[1].CyclerName != "Control" {
		t.Fatalf("expected Clock before Control, got %+v", order)
	}
}
