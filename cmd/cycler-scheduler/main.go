// Command cycler-scheduler runs the C8 scheduler against a named
// pipeline: it resolves configuration (internal/config), assembles the
// ambient telemetry stack (internal/telemetry), builds the pipeline
// (internal/pipeline) and hands both to internal/scheduler, following
// the teacher's cli/cmd/ariadne/main.go shape of flag parsing -> engine
// construction -> signal-to-cancellation -> run.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldcycler/runtime/internal/config"
	"github.com/fieldcycler/runtime/internal/demomodules"
	"github.com/fieldcycler/runtime/internal/hal"
	"github.com/fieldcycler/runtime/internal/pipeline"
	"github.com/fieldcycler/runtime/internal/scheduler"
	"github.com/fieldcycler/runtime/internal/telemetry"
	"github.com/fieldcycler/runtime/internal/telemetry/health"
)

// Exit codes per spec.md 4.C8/§6: 0 success, 1 cycler or recording
// error, 2 server error, 3 argument error.
const (
	exitOK          = 0
	exitRuntimeErr  = 1
	exitServerErr   = 2
	exitArgErr      = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Getenv))
}

func run(args []string, getenv func(string) string) int {
	cfg, err := config.Load(args, getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cycler-scheduler:", err)
		return exitArgErr
	}

	nodes, kinds, err := buildPipeline(cfg.Target)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cycler-scheduler:", err)
		return exitArgErr
	}
	plan, err := pipeline.Build(nodes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cycler-scheduler: build pipeline:", err)
		return exitArgErr
	}

	if cfg.DumpPlan {
		for _, n := range plan.OrderedNodes() {
			fmt.Printf("%s.%s\n", n.CyclerName, n.Instance)
		}
		return exitOK
	}

	bundle, err := telemetry.New(telemetry.Options{MetricsBackend: cfg.MetricsBackend, LogLevel: cfg.LogLevel})
	if err != nil {
		fmt.Fprintln(os.Stderr, "cycler-scheduler:", err)
		return exitArgErr
	}

	clock := hal.HardwareInterface(hal.SystemClock{})

	sched, err := scheduler.New(plan, scheduler.Config{
		Kinds:           kinds,
		Clock:           clock,
		RecordInstances: cfg.RecordInstances,
		RecordingsDir:   cfg.RecordingsDir,
		CommAddress:     cfg.Addresses,
		Namespace:       cfg.Namespace,
		RateLimit:       cfg.RateLimit,
		Logger:          bundle.Logger,
		Bus:             bundle.Bus,
		Metrics:         bundle.Metrics,
		Tracer:          bundle.Tracer,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "cycler-scheduler: construct scheduler:", err)
		return exitArgErr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		<-sigCh
		os.Exit(exitRuntimeErr)
	}()

	var adminServers []*http.Server
	if cfg.MetricsAddr != "" {
		if handler := bundle.MetricsHandler(); handler != nil {
			adminServers = append(adminServers, startAdminServer(ctx, cfg.MetricsAddr, handler))
		}
	}
	if cfg.HealthAddr != "" {
		evaluator := health.NewEvaluator(time.Second, sched.HealthProbes()...)
		adminServers = append(adminServers, startAdminServer(ctx, cfg.HealthAddr, telemetry.HealthServer(evaluator)))
	}

	if err := sched.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "cycler-scheduler:", err)
		var serverErr *scheduler.ServerError
		if errors.As(err, &serverErr) {
			return exitServerErr
		}
		return exitRuntimeErr
	}

	for _, srv := range adminServers {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		_ = srv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return exitOK
}

func startAdminServer(ctx context.Context, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintln(os.Stderr, "cycler-scheduler: admin server:", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}

// buildPipeline resolves a named target to its pipeline nodes and each
// cycler's InstanceKind. Real domain pipelines are an external
// collaborator's concern (spec.md's non-goals exclude domain algorithms);
// "demo" is the one registered pipeline, standing in for where a
// manifest-driven loader (per SPEC_FULL.md 4.C5's data-driven interpreter)
// would resolve a target name to a set of declared module instances.
func buildPipeline(target string) ([]pipeline.Node, map[string]scheduler.InstanceKind, error) {
	switch target {
	case "demo":
		nodes := []pipeline.Node{
			{CyclerName: "Clock", Instance: "main", Module: &demomodules.Counter{}},
			{CyclerName: "Control", Instance: "main", Module: &demomodules.Doubler{SourceCycler: "Clock"}},
		}
		kinds := map[string]scheduler.InstanceKind{"Clock": scheduler.RealTime, "Control": scheduler.RealTime}
		return nodes, kinds, nil
	default:
		return nil, nil, fmt.Errorf("unknown pipeline target %q (registered: demo)", target)
	}
}
