// Package config resolves the scheduler's own configuration — bind
// address, parameters directory, body/head identifiers, which instances
// to record — from three layers merged lowest to highest precedence:
// an optional YAML file, then the process environment, then command-line
// flags. This mirrors the teacher's configx layering
// (engine/configx/layers.go's LayerPrecedenceOrder), scaled down to the
// scheduler's much smaller configuration surface: the parameter tree's
// own file format/location stays an external collaborator's concern, per
// spec.md's explicit non-goal, so nothing here touches it.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldcycler/runtime/internal/ratelimit"
)

// SchedulerConfig is the resolved configuration scheduler.New/Run needs
// beyond the built pipeline.Plan, plus the CLI-only bits (Target,
// DumpPlan) that never reach the scheduler itself.
type SchedulerConfig struct {
	Target             string // positional: the pipeline to run
	Addresses          string // communication server bind address
	Namespace          string // C12 discovery-plane namespace this process's session/nodes register under
	ParametersDirectory string
	BodyID             string
	HeadID             string
	RecordInstances    []string
	RecordingsDir      string
	MetricsBackend     string // "prom" | "otel" | "noop"
	MetricsAddr        string // e.g. ":9090"; empty disables the endpoint
	HealthAddr         string // e.g. ":9091"; empty disables the endpoint
	LogLevel           string
	RateLimit          ratelimit.Config
	DumpPlan           bool
}

// fileLayer is the YAML shape of the lowest-precedence layer. Every field
// is optional so a partial file only overrides what it names, the same
// "nil-means-unset" convention the teacher's configx sections use via
// pointer fields.
type fileLayer struct {
	Addresses           *string  `yaml:"addresses"`
	Namespace           *string  `yaml:"namespace"`
	ParametersDirectory *string  `yaml:"parameters_directory"`
	BodyID              *string  `yaml:"body_id"`
	HeadID              *string  `yaml:"head_id"`
	RecordInstances     []string `yaml:"record_instances"`
	RecordingsDir       *string  `yaml:"recordings_dir"`
	MetricsBackend      *string  `yaml:"metrics_backend"`
	MetricsAddr         *string  `yaml:"metrics_addr"`
	HealthAddr          *string  `yaml:"health_addr"`
	LogLevel            *string  `yaml:"log_level"`
	RateLimit           *struct {
		Enabled                 *bool          `yaml:"enabled"`
		RefillPerSecond         *float64       `yaml:"refill_per_second"`
		Burst                   *float64       `yaml:"burst"`
		ClientStateTTL          *time.Duration `yaml:"client_state_ttl"`
		CircuitFailureThreshold *int           `yaml:"circuit_failure_threshold"`
		CircuitOpenDuration     *time.Duration `yaml:"circuit_open_duration"`
	} `yaml:"rate_limit"`
}

// defaults mirrors the teacher's engine.Defaults() convention: one
// function that returns the lowest layer before anything overrides it.
func defaults() SchedulerConfig {
	return SchedulerConfig{
		Addresses:      ":7711",
		Namespace:      "cycler",
		MetricsBackend: "noop",
		LogLevel:       "info",
		RateLimit:      ratelimit.Config{Enabled: false},
	}
}

// Load resolves a SchedulerConfig from args (as os.Args[1:]) and getenv
// (os.Getenv in production, a fake in tests), applying file < env < flags
// precedence. All flags, --config included, are parsed first; the file
// named by --config (if any) is then read, the environment is applied over
// it, and the flag values are applied last.
func Load(args []string, getenv func(string) string) (SchedulerConfig, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("cycler-scheduler", flag.ContinueOnError)
	var (
		configPath  string
		addresses   string
		namespace   string
		paramsDir   string
		bodyID      string
		headID      string
		recordingsDir string
		metricsBackend string
		metricsAddr string
		healthAddr  string
		logLevel    string
		dumpPlan    bool
		recordFlags stringSliceFlag
	)
	fs.StringVar(&configPath, "config", "", "optional YAML config file")
	fs.StringVar(&addresses, "addresses", "", "communication server bind address (host:port)")
	fs.StringVar(&namespace, "namespace", "", "discovery-plane namespace this process's session/nodes register under")
	fs.StringVar(&paramsDir, "parameters-directory", "", "directory holding parameter tree seed files")
	fs.StringVar(&bodyID, "body-id", "", "identifier of the robot body this process controls")
	fs.StringVar(&headID, "head-id", "", "identifier of the robot head this process controls")
	fs.StringVar(&recordingsDir, "recordings-dir", "", "directory recorded instances are written to")
	fs.StringVar(&metricsBackend, "metrics-backend", "", "metrics backend: prom|otel|noop")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "expose metrics on address (e.g. :9090)")
	fs.StringVar(&healthAddr, "health-addr", "", "expose /healthz on address (e.g. :9091)")
	fs.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	fs.BoolVar(&dumpPlan, "dump-plan", false, "print the resolved pipeline order and exit")
	fs.Var(&recordFlags, "record", "instance (CyclerName.Instance) to record; repeatable")

	if err := fs.Parse(args); err != nil {
		return SchedulerConfig{}, err
	}
	if fs.NArg() != 1 {
		return SchedulerConfig{}, fmt.Errorf("config: exactly one positional target pipeline is required, got %d", fs.NArg())
	}
	cfg.Target = fs.Arg(0)
	cfg.DumpPlan = dumpPlan

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return SchedulerConfig{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
		var fl fileLayer
		if err := yaml.Unmarshal(data, &fl); err != nil {
			return SchedulerConfig{}, fmt.Errorf("config: parse %s: %w", configPath, err)
		}
		applyFileLayer(&cfg, fl)
	}

	applyEnvLayer(&cfg, getenv)

	if addresses != "" {
		cfg.Addresses = addresses
	}
	if namespace != "" {
		cfg.Namespace = namespace
	}
	if paramsDir != "" {
		cfg.ParametersDirectory = paramsDir
	}
	if bodyID != "" {
		cfg.BodyID = bodyID
	}
	if headID != "" {
		cfg.HeadID = headID
	}
	if recordingsDir != "" {
		cfg.RecordingsDir = recordingsDir
	}
	if metricsBackend != "" {
		cfg.MetricsBackend = metricsBackend
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if healthAddr != "" {
		cfg.HealthAddr = healthAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if len(recordFlags) > 0 {
		cfg.RecordInstances = []string(recordFlags)
	}

	return cfg, nil
}

func applyFileLayer(cfg *SchedulerConfig, fl fileLayer) {
	if fl.Addresses != nil {
		cfg.Addresses = *fl.Addresses
	}
	if fl.Namespace != nil {
		cfg.Namespace = *fl.Namespace
	}
	if fl.ParametersDirectory != nil {
		cfg.ParametersDirectory = *fl.ParametersDirectory
	}
	if fl.BodyID != nil {
		cfg.BodyID = *fl.BodyID
	}
	if fl.HeadID != nil {
		cfg.HeadID = *fl.HeadID
	}
	if len(fl.RecordInstances) > 0 {
		cfg.RecordInstances = fl.RecordInstances
	}
	if fl.RecordingsDir != nil {
		cfg.RecordingsDir = *fl.RecordingsDir
	}
	if fl.MetricsBackend != nil {
		cfg.MetricsBackend = *fl.MetricsBackend
	}
	if fl.MetricsAddr != nil {
		cfg.MetricsAddr = *fl.MetricsAddr
	}
	if fl.HealthAddr != nil {
		cfg.HealthAddr = *fl.HealthAddr
	}
	if fl.LogLevel != nil {
		cfg.LogLevel = *fl.LogLevel
	}
	if fl.RateLimit != nil {
		if fl.RateLimit.Enabled != nil {
			cfg.RateLimit.Enabled = *fl.RateLimit.Enabled
		}
		if fl.RateLimit.RefillPerSecond != nil {
			cfg.RateLimit.RefillPerSecond = *fl.RateLimit.RefillPerSecond
		}
		if fl.RateLimit.Burst != nil {
			cfg.RateLimit.Burst = *fl.RateLimit.Burst
		}
		if fl.RateLimit.ClientStateTTL != nil {
			cfg.RateLimit.ClientStateTTL = *fl.RateLimit.ClientStateTTL
		}
		if fl.RateLimit.CircuitFailureThreshold != nil {
			cfg.RateLimit.CircuitFailureThreshold = *fl.RateLimit.CircuitFailureThreshold
		}
		if fl.RateLimit.CircuitOpenDuration != nil {
			cfg.RateLimit.CircuitOpenDuration = *fl.RateLimit.CircuitOpenDuration
		}
	}
}

// envPrefix namespaces every environment variable this process reads, so
// it can share a host with unrelated tooling.
const envPrefix = "CYCLER_"

func applyEnvLayer(cfg *SchedulerConfig, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(envPrefix + "ADDRESSES"); v != "" {
		cfg.Addresses = v
	}
	if v := getenv(envPrefix + "NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := getenv(envPrefix + "PARAMETERS_DIRECTORY"); v != "" {
		cfg.ParametersDirectory = v
	}
	if v := getenv(envPrefix + "BODY_ID"); v != "" {
		cfg.BodyID = v
	}
	if v := getenv(envPrefix + "HEAD_ID"); v != "" {
		cfg.HeadID = v
	}
	if v := getenv(envPrefix + "RECORDINGS_DIR"); v != "" {
		cfg.RecordingsDir = v
	}
	if v := getenv(envPrefix + "METRICS_BACKEND"); v != "" {
		cfg.MetricsBackend = v
	}
	if v := getenv(envPrefix + "METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := getenv(envPrefix + "HEALTH_ADDR"); v != "" {
		cfg.HealthAddr = v
	}
	if v := getenv(envPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv(envPrefix + "RECORD_INSTANCES"); v != "" {
		cfg.RecordInstances = strings.Split(v, ",")
	}
	if v := getenv(envPrefix + "RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RateLimit.Enabled = b
		}
	}
}

// stringSliceFlag implements flag.Value to collect repeated --record
// flags, the same shape the teacher uses nowhere directly but which
// flag.Var documents as the idiomatic way to accept a repeatable flag.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }
func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}
