// Package cycler implements the per-instance runtime of spec.md 4.C7: a
// worker that owns one cycler instance's database, runs its bound
// modules in pipeline order once per tick, and publishes the result
// through a C1 buffer. Grounded on the tick structure generated by
// original_source/crates/cyclers/code_generation/cycler.rs's
// get_cycle_method (claim own writer, run modules, announce/finalize or
// update the perception databases, publish, update the historic
// database) — collapsed here into one Go-native Tick per Kind, since Go
// has no code-generation stage to special-case per module group the way
// the macro-generated Rust does.
package cycler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldcycler/runtime/internal/buffer"
	"github.com/fieldcycler/runtime/internal/hal"
	"github.com/fieldcycler/runtime/internal/historic"
	"github.com/fieldcycler/runtime/internal/module"
	"github.com/fieldcycler/runtime/internal/valuetree"
)

// Kind distinguishes the two cycler roles spec.md 4.C7 defines.
type Kind int

const (
	KindRealTime Kind = iota
	KindPerception
)

// State is the cycler lifecycle state machine of spec.md 4.C7:
// Constructed -> Running -> Cancelling -> Terminated.
type State int32

const (
	StateConstructed State = iota
	StateRunning
	StateCancelling
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "Constructed"
	case StateRunning:
		return "Running"
	case StateCancelling:
		return "Cancelling"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// BoundModule wraps one module that a Cycler binds and runs each tick.
type BoundModule struct {
	Module module.Module
}

// Cycler runs one cycler instance: a named, running copy of a pipeline
// stage (e.g. CyclerName="Vision", Instance="top").
type Cycler struct {
	CyclerName string
	Instance   string
	Kind       Kind
	Clock      hal.HardwareInterface

	OwnWriter *buffer.Writer[valuetree.Value]

	// RealTime-only.
	Consumers     map[string]*Consumer[valuetree.Value]
	PerceptionDBs *PerceptionDatabases[valuetree.Value]
	HistoricDB    *historic.Database[valuetree.Value]

	// Perception-only.
	OwnProducer *Producer[valuetree.Value]

	// Shared: other real-time cyclers' latest outputs this cycler reads,
	// keyed by the producing cycler's name.
	Readers      map[string]*buffer.Reader[valuetree.Value]
	ConfigReader *buffer.Reader[valuetree.Value]

	Modules []BoundModule

	// OnPublish is called with the finalized output once per tick, after
	// OwnWriter.Publish; the scheduler wires it to the outputs router so
	// subscribers learn of the change without polling. Recorder is called
	// independently for the recording store. Either may be nil.
	OnPublish func(instance string, timestamp time.Time, output valuetree.Value)
	Recorder  func(timestamp time.Time, output valuetree.Value)

	state atomic.Int32
	mu    sync.Mutex
}

// NewCycler constructs a Cycler in state Constructed. Callers finish
// wiring Consumers/Readers/OwnProducer/etc. before calling Start.
func NewCycler(cyclerName, instance string, kind Kind, clock hal.HardwareInterface, writer *buffer.Writer[valuetree.Value], modules []BoundModule) (*Cycler, error) {
	if len(modules) == 0 {
		return nil, errNoModules
	}
	c := &Cycler{
		CyclerName:   cyclerName,
		Instance:     instance,
		Kind:         kind,
		Clock:        clock,
		OwnWriter:    writer,
		Readers:      make(map[string]*buffer.Reader[valuetree.Value]),
		Consumers:    make(map[string]*Consumer[valuetree.Value]),
		Modules:      modules,
	}
	if kind == KindRealTime {
		c.PerceptionDBs = NewPerceptionDatabases[valuetree.Value]()
		c.HistoricDB = historic.NewDatabase[valuetree.Value]()
	} else {
		c.OwnProducer = NewProducer[valuetree.Value]()
	}
	return c, nil
}

// State returns the cycler's current lifecycle state.
func (c *Cycler) State() State { return State(c.state.Load()) }

func (c *Cycler) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != from {
		return fmt.Errorf("%w: wanted %s, was %s", errWrongState, from, c.State())
	}
	c.state.Store(int32(to))
	return nil
}

// Start moves the cycler from Constructed to Running. It must be called
// exactly once before the first Tick.
func (c *Cycler) Start() error { return c.transition(StateConstructed, StateRunning) }

// Cancel moves the cycler from Running to Cancelling, signaling that its
// run loop should stop ticking and transition to Terminated.
func (c *Cycler) Cancel() error { return c.transition(StateRunning, StateCancelling) }

// Terminate moves the cycler to Terminated from Cancelling.
func (c *Cycler) Terminate() error { return c.transition(StateCancelling, StateTerminated) }

// buildInputRoot assembles the cross-cycler input namespace every bound
// module's contract resolves against: one object field per other cycler
// this instance reads, holding that cycler's latest published database.
func (c *Cycler) buildInputRoot() valuetree.Value {
	fields := make(map[string]valuetree.Value, len(c.Readers))
	for name, reader := range c.Readers {
		view := reader.Next()
		if v, ok := view.Value(); ok {
			fields[name] = v
		} else {
			fields[name] = valuetree.Null()
		}
	}
	return valuetree.Object(fields)
}

// runModules binds and executes every module in order, merging each
// module's outputs into the running own-database value so later modules
// in the same tick can read earlier modules' outputs under this cycler's
// own namespace, and invokes afterFirst once execution of Modules[0]
// completes (the hook point the generated Rust cycle() uses for
// announce()/perception_databases.update()).
func (c *Cycler) runModules(instance string, inputRoot, paramRoot valuetree.Value, afterFirst func()) (valuetree.Value, error) {
	own := valuetree.Object(nil)
	for i, bm := range c.Modules {
		// A module's own-cycler outputs are addressed without a cycler-name
		// prefix ("$cycler_instance/field"), so this tick's own running
		// output is merged directly under the instance key; cross-cycler
		// reads still resolve through their producing cycler's own field.
		merged := inputRoot.WithField(instance, own)
		ctx, err := module.Bind(bm.Module.Contract(), instance, merged, paramRoot)
		if err != nil {
			return valuetree.Value{}, fmt.Errorf("cycler %s/%s: bind module %d: %w", c.CyclerName, instance, i, err)
		}
		if err := bm.Module.Cycle(ctx); err != nil {
			return valuetree.Value{}, fmt.Errorf("cycler %s/%s: run module %d: %w", c.CyclerName, instance, i, err)
		}
		produced := ctx.Materialize()
		if instanceOutputs, ok := produced.Field(instance); ok {
			own = valuetree.Merge(own, instanceOutputs)
		}
		if i == 0 && afterFirst != nil {
			afterFirst()
		}
	}
	return valuetree.Object(map[string]valuetree.Value{instance: own}), nil
}
