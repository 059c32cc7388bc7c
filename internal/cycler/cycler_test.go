package cycler

import (
	"testing"
	"time"

	"github.com/fieldcycler/runtime/internal/buffer"
	"github.com/fieldcycler/runtime/internal/hal"
	"github.com/fieldcycler/runtime/internal/module"
	"github.com/fieldcycler/runtime/internal/valuetree"
)

// constantModule writes a fixed field into its own-cycler namespace every
// tick, ignoring any inputs.
type constantModule struct {
	contract module.Contract
	field    string
	value    func() valuetree.Value
}

func (m constantModule) Contract() module.Contract { return m.contract }
func (m constantModule) Cycle(ctx *module.Context) error {
	return ctx.SetOutput(m.field, m.value())
}

func newVisionModule(counter *int) constantModule {
	return constantModule{
		contract: module.Contract{
			ModuleName: "VisionMain",
			Outputs:    []module.FieldSpec{module.NewFieldSpec("image", "$cycler_instance/image")},
		},
		field: "image",
		value: func() valuetree.Value {
			*counter++
			return valuetree.Number(float64(*counter))
		},
	}
}

func TestPerceptionTickPublishesAndFinalizes(t *testing.T) {
	clock := hal.NewSimulatedClock(time.Unix(1_700_000_000, 0))
	buf := buffer.NewBuffer[valuetree.Value](3)
	var counter int
	c, err := NewCycler("Vision", "top", KindPerception, clock, buf.NewWriter(), []BoundModule{{Module: newVisionModule(&counter)}})
	if err != nil {
		t.Fatal(err)
	}
	consumer := c.OwnProducer.NewConsumer()

	if err := c.PerceptionTick(); err != nil {
		t.Fatal(err)
	}

	reader := buf.NewReader()
	view := reader.Next()
	v, ok := view.Value()
	if !ok {
		t.Fatal("expected a published own-database value")
	}
	topObj, ok := v.Field("top")
	if !ok {
		t.Fatalf("expected instance-rooted output, got %+v", v)
	}
	image, ok := topObj.Field("image")
	if !ok {
		t.Fatal("expected image field")
	}
	if n, _ := image.Number(); n != 1 {
		t.Fatalf("expected image=1, got %v", n)
	}

	entries := consumer.Consume(clock.Now())
	if len(entries) != 1 {
		t.Fatalf("expected the consumer to observe the finalized tick, got %d entries", len(entries))
	}
}

func TestRealTimeTickMergesConsumerUpdatesIntoPerceptionDatabase(t *testing.T) {
	clock := hal.NewSimulatedClock(time.Unix(1_700_000_000, 0))

	visionBuf := buffer.NewBuffer[valuetree.Value](3)
	var visionCounter int
	vision, err := NewCycler("Vision", "top", KindPerception, clock, visionBuf.NewWriter(), []BoundModule{{Module: newVisionModule(&visionCounter)}})
	if err != nil {
		t.Fatal(err)
	}
	consumer := vision.OwnProducer.NewConsumer()

	controlBuf := buffer.NewBuffer[valuetree.Value](3)
	noop := constantModule{
		contract: module.Contract{
			ModuleName: "ControlMain",
			Outputs:    []module.FieldSpec{module.NewFieldSpec("state", "$cycler_instance/state")},
		},
		field: "state",
		value: func() valuetree.Value { return valuetree.String("ok") },
	}
	control, err := NewCycler("Control", "main", KindRealTime, clock, controlBuf.NewWriter(), []BoundModule{{Module: noop}})
	if err != nil {
		t.Fatal(err)
	}
	control.Consumers["Vision.top"] = consumer

	if err := vision.PerceptionTick(); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Millisecond)
	if err := control.Tick(); err != nil {
		t.Fatal(err)
	}

	if control.HistoricDB.Len() != 1 {
		t.Fatalf("expected one historic snapshot after the first tick, got %d", control.HistoricDB.Len())
	}
	// No producer has an outstanding announcement, so the watermark is
	// absent and nothing should be pruned away.
	if _, ok := control.PerceptionDBs.Watermark(); ok {
		t.Fatal("expected no outstanding watermark once the perception tick finalized")
	}
}
