package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/pathguard/pkg/config"
)

// Config is the resolved telemetry configuration. FromAppConfig derives it
// from the telemetry section of pathguard.yaml.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig selects level (trace..fatal), format (console or json) and
// output ("stdout", "stderr" or a file path).
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TracingConfig selects the span exporter. Exporter is otlp, stdout or none;
// otlp sends to Endpoint over gRPC, in plaintext when Insecure is set.
type TracingConfig struct {
	Enabled            bool
	Exporter           string
	Endpoint           string
	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
	Insecure           bool
}

// MetricsConfig configures the Prometheus registry and the HTTP listener
// that also serves /status.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string
	Path          string
	Namespace     string

	// ProbeBuckets are the health probe latency histogram buckets, in seconds.
	ProbeBuckets []float64
}

// EventsConfig sizes the event queue. Without EnableAsync events are
// delivered on the publishing goroutine.
type EventsConfig struct {
	Enabled       bool
	BufferSize    int
	FlushInterval time.Duration
	MaxBatchSize  int
	EnableAsync   bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "pathguard",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "pathguard",
			ProbeBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// FromAppConfig overlays the telemetry section of the application
// configuration on DefaultConfig.
func FromAppConfig(tc config.TelemetryConfig, version string) *Config {
	cfg := DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}

	cfg.Logging.Level = tc.Logging.Level
	cfg.Logging.Format = tc.Logging.Format
	cfg.Logging.Output = tc.Logging.Output

	cfg.Tracing.Enabled = tc.Tracing.Enabled
	cfg.Tracing.Exporter = tc.Tracing.Exporter
	cfg.Tracing.Endpoint = tc.Tracing.Endpoint
	cfg.Tracing.SamplingRate = tc.Tracing.SamplingRate
	cfg.Tracing.Insecure = tc.Tracing.Insecure

	cfg.Metrics.Enabled = tc.Metrics.Enabled
	cfg.Metrics.ListenAddress = tc.Metrics.ListenAddress
	if tc.Metrics.Path != "" {
		cfg.Metrics.Path = tc.Metrics.Path
	}

	if tc.EventBuffer > 0 {
		cfg.Events.BufferSize = tc.EventBuffer
	}
	return cfg
}

var (
	logLevels     = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	logFormats    = map[string]bool{"console": true, "json": true}
	spanExporters = map[string]bool{"otlp": true, "stdout": true, "none": true}
)

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.ServiceName == "" {
		bad("service name is required")
	}
	if !logLevels[c.Logging.Level] {
		bad("invalid log level %q", c.Logging.Level)
	}
	if !logFormats[c.Logging.Format] {
		bad("invalid log format %q (want console or json)", c.Logging.Format)
	}

	if t := c.Tracing; t.Enabled {
		switch {
		case !spanExporters[t.Exporter]:
			bad("invalid trace exporter %q", t.Exporter)
		case t.Exporter == "otlp" && t.Endpoint == "":
			bad("otlp exporter requires an endpoint")
		}
	}
	if r := c.Tracing.SamplingRate; r < 0 || r > 1 {
		bad("trace sampling rate %v is outside 0..1", r)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		bad("metrics listen address is required when metrics are enabled")
	}
	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		bad("event buffer size must be positive, got %d", c.Events.BufferSize)
	}

	return errors.Join(errs...)
}
