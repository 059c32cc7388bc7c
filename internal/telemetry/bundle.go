// Package telemetry assembles the C13 ambient stack — logging, tracing,
// metrics and the events bus — into the single Bundle cmd/cycler-
// scheduler constructs once at startup and threads through to the
// scheduler, mirroring the teacher's own pattern of selecting a metrics
// backend by name (engine.Config.MetricsBackend: "prom"|"otel"|"noop")
// and wiring logging/tracing ambiently rather than per-component.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/fieldcycler/runtime/internal/telemetry/events"
	"github.com/fieldcycler/runtime/internal/telemetry/health"
	"github.com/fieldcycler/runtime/internal/telemetry/logging"
	"github.com/fieldcycler/runtime/internal/telemetry/metrics"
	"github.com/fieldcycler/runtime/internal/telemetry/tracing"
)

// Bundle is every ambient dependency the scheduler and its components
// take by constructor injection.
type Bundle struct {
	Logger  logging.Logger
	Tracer  tracing.Tracer
	Metrics metrics.Provider
	Bus     events.Bus

	// metricsHandler is non-nil only for the "prom" backend, so main.go
	// can mount it on the metrics HTTP endpoint; the "otel"/"noop"
	// backends have nothing to scrape over HTTP.
	metricsHandler http.Handler
}

// Options selects the bundle's backends; zero values resolve to the
// teacher's own defaults (noop metrics, disabled tracing, info logging).
type Options struct {
	MetricsBackend string // "prom" | "otel" | "noop", default "noop"
	LogLevel       string // "debug" | "info" | "warn" | "error", default "info"
	EnableTracing  bool
}

func New(opts Options) (*Bundle, error) {
	logger := logging.New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(opts.LogLevel)})))
	tracer := tracing.NewTracer(opts.EnableTracing)

	var provider metrics.Provider
	var handler http.Handler
	switch opts.MetricsBackend {
	case "prom":
		p := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
		provider = p
		handler = p.MetricsHandler()
	case "otel":
		provider = metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "cycler-scheduler"})
	case "", "noop":
		provider = metrics.NewNoopProvider()
	default:
		return nil, fmt.Errorf("telemetry: unknown metrics backend %q", opts.MetricsBackend)
	}

	return &Bundle{
		Logger:         logger,
		Tracer:         tracer,
		Metrics:        provider,
		Bus:            events.NewBus(provider),
		metricsHandler: handler,
	}, nil
}

// MetricsHandler returns the Prometheus scrape handler, or nil for
// backends with no HTTP exposition surface.
func (b *Bundle) MetricsHandler() http.Handler { return b.metricsHandler }

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HealthServer wires an Evaluator behind a /healthz handler, the same
// endpoint shape as the teacher's cli/cmd/ariadne/main.go healthAddr
// branch.
func HealthServer(evaluator *health.Evaluator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := evaluator.Evaluate(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if snap.Overall != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	})
	return mux
}
