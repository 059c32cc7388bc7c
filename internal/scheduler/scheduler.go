// Package scheduler implements the startup and run sequence of
// spec.md 4.C8: it owns the parameter tree, wires each cycler instance's
// buffers/future-queues to its peers, starts the recording store and the
// communication server, then runs every cycler concurrently until one
// fails or the context is cancelled. Grounded on
// engine/internal/pipeline.Pipeline's context/WaitGroup shutdown
// (generalized here to golang.org/x/sync/errgroup, since the scheduler
// must propagate the first of several heterogeneous failures rather than
// just join workers) and on cli/cmd/ariadne/main.go's signal-to-context
// handler.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcycler/runtime/internal/buffer"
	"github.com/fieldcycler/runtime/internal/comm"
	"github.com/fieldcycler/runtime/internal/cycler"
	"github.com/fieldcycler/runtime/internal/graph"
	"github.com/fieldcycler/runtime/internal/hal"
	"github.com/fieldcycler/runtime/internal/outputs"
	"github.com/fieldcycler/runtime/internal/paramtree"
	"github.com/fieldcycler/runtime/internal/pipeline"
	"github.com/fieldcycler/runtime/internal/ratelimit"
	"github.com/fieldcycler/runtime/internal/recording"
	"github.com/fieldcycler/runtime/internal/telemetry/events"
	"github.com/fieldcycler/runtime/internal/telemetry/health"
	"github.com/fieldcycler/runtime/internal/telemetry/logging"
	"github.com/fieldcycler/runtime/internal/telemetry/metrics"
	"github.com/fieldcycler/runtime/internal/telemetry/tracing"
	"github.com/fieldcycler/runtime/internal/valuetree"
)

// InstanceKind records the one cycler-level property pipeline.Node does
// not carry: whether a declared cycler runs the RealTime or Perception
// arm of spec.md 4.C7.
type InstanceKind int

const (
	RealTime InstanceKind = iota
	Perception
)

// Config is everything the scheduler needs beyond the built Plan: which
// cyclers are RealTime vs Perception, which instances to record, where to
// write recordings, the communication server's bind address, and the
// hardware clock cyclers read. Mirrors the ambient SchedulerConfig of
// SPEC_FULL.md 1.1 — this is the in-memory shape internal/config resolves
// into, kept separate from flag/env/file parsing concerns.
type Config struct {
	Kinds             map[string]InstanceKind // CyclerName -> Kind, applies to every instance of that cycler
	Clock             hal.HardwareInterface
	RecordInstances   []string // "CyclerName.Instance" entries to persist
	RecordingsDir     string
	CommAddress       string
	RateLimit         ratelimit.Config // per-client throttling on the communication server; disabled if Enabled is left false
	Namespace         string           // C12 discovery-plane namespace this process's session/nodes/publishers register under; defaults to "cycler"
	Logger            logging.Logger
	Bus               events.Bus
	Metrics           metrics.Provider
	Tracer            tracing.Tracer
}

// ServerError distinguishes a communication-server failure from a
// cycler/recording failure in Run's returned error, per spec.md §6's
// exit-code split (1 for cycler/recording, 2 for server): callers use
// errors.As to tell the two apart.
type ServerError struct{ Err error }

func (e *ServerError) Error() string { return fmt.Sprintf("scheduler: communication server: %v", e.Err) }
func (e *ServerError) Unwrap() error { return e.Err }

type instanceKey struct{ cyclerName, instance string }

func (k instanceKey) String() string { return k.cyclerName + "." + k.instance }

// Scheduler is the constructed, not-yet-running C8 component. New performs
// startup steps 1-7 of spec.md 4.C8; Run performs step 8 (start all
// cyclers concurrently, await, propagate the first error).
type Scheduler struct {
	cfg    Config
	params *paramtree.Tree
	router *outputs.Router
	server *comm.Server

	cyclers []*cycler.Cycler
	stores  map[instanceKey]*recording.Store
	subBufs map[instanceKey]*buffer.Buffer[valuetree.Value]
	limiter *ratelimit.ClientLimiter
	running atomic.Bool

	registry  *graph.Registry
	sessionID string
	beacons   []*graph.Token
}

// SessionID is this process's C12 discovery-plane session identifier,
// generated once in New and registered under "sessions/{namespace}/{id}"
// for the lifetime of the Scheduler.
func (s *Scheduler) SessionID() string { return s.sessionID }

// Registry exposes the discovery-plane registry backing list/watch for
// sessions, nodes, publishers and parameters this process beacons.
func (s *Scheduler) Registry() *graph.Registry { return s.registry }

// New performs spec.md 4.C8 steps 1-7: construct the parameter tree sized
// 2+N, build each instance's own buffer/reader pair, wire RealTime<->
// Perception cross-consumption, construct each cycler, and wire the
// recording store and the communication server without starting them.
func New(plan *pipeline.Plan, cfg Config) (*Scheduler, error) {
	if cfg.Clock == nil {
		cfg.Clock = hal.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopProvider()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus(cfg.Metrics)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.NewTracer(false)
	}

	groups, order := groupByInstance(plan.OrderedNodes())
	n := len(order)

	params := paramtree.NewTree(n) // step 1: 2+N slots

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "cycler"
	}

	s := &Scheduler{
		cfg:       cfg,
		params:    params,
		stores:    make(map[instanceKey]*recording.Store),
		subBufs:   make(map[instanceKey]*buffer.Buffer[valuetree.Value]),
		registry:  graph.NewRegistry(cfg.Bus, cfg.Logger),
		sessionID: uuid.NewString(),
	}

	s.server = comm.NewServer(params, cfg.Logger)
	s.router = outputs.NewRouter(s.server.DispatchUpdate)
	s.server.BindRouter(s.router)
	s.limiter = ratelimit.New(cfg.RateLimit)
	s.server.SetLimiter(s.limiter)
	s.beacons = append(s.beacons, s.registry.Register(graph.SessionKey(namespace, s.sessionID)))

	type built struct {
		key    instanceKey
		kind   InstanceKind
		c      *cycler.Cycler
		buf    *buffer.Buffer[valuetree.Value]
	}
	instances := make(map[instanceKey]*built, n)

	// Step 2: own writer/reader pair per instance, sized per spec.md's
	// N+2 (RealTime, read by up to every peer) vs N+1 (Perception, read
	// only by the outputs router — peers consume it through the future
	// queue, not a Reader).
	for _, key := range order {
		kind := cfg.Kinds[key.cyclerName]
		slots := n + 1
		if kind == RealTime {
			slots = n + 2
		}
		buf := buffer.NewBuffer[valuetree.Value](slots)

		modules := make([]cycler.BoundModule, 0, len(groups[key]))
		for _, node := range groups[key] {
			modules = append(modules, cycler.BoundModule{Module: node.Module})
		}

		ckind := cycler.KindRealTime
		if kind == Perception {
			ckind = cycler.KindPerception
		}
		c, err := cycler.NewCycler(key.cyclerName, key.instance, ckind, cfg.Clock, buf.NewWriter(), modules)
		if err != nil {
			return nil, fmt.Errorf("scheduler: construct cycler %s: %w", key, err)
		}
		c.ConfigReader = params.NewReader()

		instances[key] = &built{key: key, kind: kind, c: c, buf: buf}
	}

	// Step 3: wire each RealTime cycler to every Perception consumer, and
	// each Perception cycler to every RealTime reader.
	for _, a := range instances {
		for _, b := range instances {
			if a.key == b.key {
				continue
			}
			switch {
			case a.kind == RealTime && b.kind == Perception:
				a.c.Consumers[b.key.String()] = b.c.OwnProducer.NewConsumer()
			case a.kind == RealTime && b.kind == RealTime:
				a.c.Readers[b.key.cyclerName] = b.buf.NewReader()
			case a.kind == Perception && b.kind == RealTime:
				a.c.Readers[b.key.cyclerName] = b.buf.NewReader()
			}
		}
	}

	// Step 4: subscribed-additional-outputs pair per instance (C1, 3
	// slots) — a dedicated channel for the instance's latest published
	// value, independent of the router's own polling reader, so a future
	// diagnostic consumer can observe publishes without contending with
	// the router's Read path.
	for _, b := range instances {
		s.subBufs[b.key] = buffer.NewBuffer[valuetree.Value](3)
	}

	recordSet := make(map[string]bool, len(cfg.RecordInstances))
	for _, name := range cfg.RecordInstances {
		recordSet[name] = true
	}

	// Step 5 (already constructed above) + step 6/7 wiring: recorder and
	// notification hooks, registration with the outputs router.
	for _, b := range instances {
		key := b.key
		reader := b.buf.NewReader()
		fields := fieldNames(groups[key])
		s.router.RegisterCycler(key.String(), fields, func() (valuetree.Value, bool) {
			v, ok := reader.Next().Value()
			return v, ok
		})

		s.beacons = append(s.beacons, s.registry.Register(graph.NodeKey(namespace, key.String())))
		for _, field := range fields {
			s.beacons = append(s.beacons, s.registry.Register(graph.PublisherKey(namespace, key.String(), graph.ScopeGlobal, field)))
		}

		subWriter := s.subBufs[key].NewWriter()
		router := s.router
		instanceName := key.String()

		b.c.OnPublish = func(instance string, ts time.Time, output valuetree.Value) {
			g := subWriter.Next()
			g.Set(output)
			g.Publish()
			router.NotifyPublish(instanceName, ts, output)
		}

		if recordSet[key.String()] {
			path := filepath.Join(cfg.RecordingsDir, key.String()+".rec")
			store, err := recording.Create(path)
			if err != nil {
				return nil, fmt.Errorf("scheduler: open recording for %s: %w", key, err)
			}
			s.stores[key] = store
			b.c.Recorder = func(ts time.Time, output valuetree.Value) {
				payload, err := output.MarshalJSON()
				if err != nil {
					_ = cfg.Bus.Publish(events.Event{Category: events.CategoryRecording, Type: "recording_write_error", Severity: "error", Fields: map[string]interface{}{"instance": key.String(), "err": err.Error()}})
					return
				}
				store.Append(ts, payload)
			}
		}

		s.cyclers = append(s.cyclers, b.c)
	}

	return s, nil
}

func fieldNames(nodes []pipeline.Node) []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range nodes {
		for _, out := range n.Module.Contract().Outputs {
			if !seen[out.Name] {
				seen[out.Name] = true
				names = append(names, out.Name)
			}
		}
	}
	sort.Strings(names)
	return names
}

func groupByInstance(nodes []pipeline.Node) (map[instanceKey][]pipeline.Node, []instanceKey) {
	groups := make(map[instanceKey][]pipeline.Node)
	var order []instanceKey
	for _, n := range nodes {
		key := instanceKey{cyclerName: n.CyclerName, instance: n.Instance}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], n)
	}
	return groups, order
}

// Run performs spec.md 4.C8 step 8 and the §5 cancellation contract:
// launch the recording store(s) (already running), the communication
// server, and every cycler concurrently via errgroup, propagating the
// first error and cancelling the rest. Cyclers tick "as fast as
// possible" (no fixed period is specified) gated only by ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if s.cfg.CommAddress == "" {
			<-ctx.Done()
			return nil
		}
		if err := s.server.Run(ctx, s.cfg.CommAddress); err != nil {
			return &ServerError{Err: err}
		}
		return nil
	})

	for _, c := range s.cyclers {
		c := c
		if err := c.Start(); err != nil {
			return fmt.Errorf("scheduler: start cycler %s/%s: %w", c.CyclerName, c.Instance, err)
		}
		g.Go(func() error { return s.runCycler(ctx, c) })
	}

	err := g.Wait()
	if recErr := s.closeRecordings(); err == nil && recErr != nil {
		err = fmt.Errorf("scheduler: recording: %w", recErr)
	}
	return err
}

// runCycler ticks c in a tight loop, checking ctx before each tick, per
// the §5 "keep_running token polled before each tick" contract. Every
// tick is wrapped in a span and reports duration/error metrics, per
// SPEC_FULL.md 4.C7's expansion.
func (s *Scheduler) runCycler(ctx context.Context, c *cycler.Cycler) error {
	tickHist := s.cfg.Metrics.NewHistogram(metrics.HistogramOpts{
		CommonOpts: metrics.CommonOpts{Namespace: "cycler", Name: "tick_duration_seconds", Labels: []string{"cycler", "instance"}},
	})
	tickErrors := s.cfg.Metrics.NewCounter(metrics.CounterOpts{
		CommonOpts: metrics.CommonOpts{Namespace: "cycler", Name: "tick_errors_total", Labels: []string{"cycler", "instance"}},
	})

	for {
		select {
		case <-ctx.Done():
			_ = c.Cancel()
			_ = c.Terminate()
			return nil
		default:
		}

		_, span := s.cfg.Tracer.StartSpan(ctx, "cycler.tick")
		span.SetAttribute("cycler.kind", c.Kind)
		span.SetAttribute("cycler.instance", c.CyclerName+"."+c.Instance)

		start := time.Now()
		var err error
		if c.Kind == cycler.KindRealTime {
			err = c.Tick()
		} else {
			err = c.PerceptionTick()
		}
		tickHist.Observe(time.Since(start).Seconds(), c.CyclerName, c.Instance)
		span.End()

		if err != nil {
			tickErrors.Inc(1, c.CyclerName, c.Instance)
			_ = s.cfg.Bus.Publish(events.Event{
				Category: events.CategoryCycler,
				Type:     "cycle_failed",
				Severity: "error",
				Fields:   map[string]interface{}{"cycler": c.CyclerName, "instance": c.Instance, "err": err.Error()},
			})
			return fmt.Errorf("scheduler: cycler %s/%s: %w", c.CyclerName, c.Instance, err)
		}
	}
}

func (s *Scheduler) closeRecordings() error {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		firstErr error
	)
	for _, store := range s.stores {
		store := store
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Close(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	_ = s.limiter.Close()
	for _, beacon := range s.beacons {
		beacon.Close()
	}
	return firstErr
}

// Router exposes the outputs router for the CLI's --dump-plan and for
// tests; the communication server owns the only other reference.
func (s *Scheduler) Router() *outputs.Router { return s.router }

// Params exposes the parameter tree, e.g. for a --parameters-directory
// seed loader run before Run.
func (s *Scheduler) Params() *paramtree.Tree { return s.params }

// HealthProbes returns one probe reporting whether Run's cycler
// goroutines are active, one reporting whether the communication server
// is listening, and one per open recording store, for a
// health.Evaluator the CLI mounts behind /healthz.
func (s *Scheduler) HealthProbes() []health.Probe {
	probes := []health.Probe{
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			if s.running.Load() {
				return health.Healthy("scheduler")
			}
			return health.Unhealthy("scheduler", "not running")
		}),
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			if s.cfg.CommAddress == "" || s.server.Ready() {
				return health.Healthy("comm_server")
			}
			return health.Unhealthy("comm_server", "not yet listening")
		}),
	}
	for key := range s.stores {
		name := "recording." + key.String()
		probes = append(probes, health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			if s.running.Load() {
				return health.Healthy(name)
			}
			return health.Unknown(name, "scheduler not running")
		}))
	}
	return probes
}
