package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default returns the configuration used when no file is given: one simulated
// device with four interfaces and metrics on :9090.
func Default() *AppConfig {
	return &AppConfig{
		Devices: []DeviceConfig{
			{
				Name:       "demo",
				Kind:       KindSimulated,
				Interfaces: []string{"eth0", "eth1", "eth2", "eth3"},
			},
		},
		Failover: FailoverConfig{
			Interval:          10 * time.Second,
			FailureThreshold:  3,
			RecoveryThreshold: 5,
			ProbeTimeout:      5 * time.Second,
			StopTimeout:       15 * time.Second,
		},
		Intent: IntentConfig{
			Path:            "intent.yaml",
			Strategy:        "pair",
			InterfaceCount:  4,
			InterfacePrefix: "eth",
			AddressOffset:   10,
		},
		Store: StoreConfig{
			Path:         "pathguard.db",
			HistoryLevel: "info",
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stderr",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				Exporter:     "none",
				SamplingRate: 1.0,
				Insecure:     true,
			},
			Metrics: MetricsConfig{
				Enabled:       true,
				ListenAddress: ":9090",
				Path:          "/metrics",
			},
			EventBuffer: 1000,
		},
	}
}

// Loader reads and validates AppConfig documents.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
}

// NewLoader creates a loader. A nil registry gets the built-in schemas.
func NewLoader(schemas *SchemaRegistry) *Loader {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &Loader{
		schemas:  schemas,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// LoadError reports every problem found in a configuration document.
type LoadError struct {
	File   string
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.String()
	}
	where := e.File
	if where == "" {
		where = "configuration"
	}
	return fmt.Sprintf("invalid %s: %s", where, strings.Join(parts, "; "))
}

// Load reads path over Default and validates the result. An empty path
// returns the validated defaults.
func Load(ctx context.Context, path string) (*AppConfig, error) {
	return NewLoader(nil).Load(ctx, path)
}

// Load reads path over Default and validates the result.
func (l *Loader) Load(ctx context.Context, path string) (*AppConfig, error) {
	if path == "" {
		cfg := Default()
		return cfg, l.Validate(cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := l.Parse(ctx, data)
	var lerr *LoadError
	if errors.As(err, &lerr) {
		lerr.File = path
		for i := range lerr.Errors {
			lerr.Errors[i].File = path
		}
	}
	return cfg, err
}

// Parse decodes a YAML or JSON document over Default and validates it. The
// raw document is checked against the #AppConfig schema first, so unknown
// keys are reported before decoding.
func (l *Loader) Parse(ctx context.Context, data []byte) (*AppConfig, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if raw != nil {
		if err := l.schemas.ValidateAgainstSchema(ctx, SchemaConfig, raw); err != nil {
			var serr *SchemaError
			if errors.As(err, &serr) {
				return nil, &LoadError{Errors: serr.Errors}
			}
			return nil, err
		}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against its struct tags and cross-field rules.
func (l *Loader) Validate(cfg *AppConfig) error {
	var errs []ValidationError

	if err := l.validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Path:    trimRoot(fe.Namespace()),
				Message: describe(fe),
			})
		}
	}

	if cfg.Intent.Device != "" && cfg.Device(cfg.Intent.Device) == nil {
		errs = append(errs, ValidationError{
			Path:    "intent.device",
			Message: fmt.Sprintf("unknown device %q", cfg.Intent.Device),
		})
	}
	if cfg.Failover.ProbeTimeout > 0 && cfg.Failover.Interval > 0 && cfg.Failover.ProbeTimeout > cfg.Failover.Interval {
		errs = append(errs, ValidationError{
			Path:    "failover.probeTimeout",
			Message: "must not exceed failover.interval",
		})
	}

	if len(errs) > 0 {
		return &LoadError{Errors: errs}
	}
	return nil
}

func trimRoot(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "unique":
		return fmt.Sprintf("must have unique %s values", strings.ToLower(fe.Param()))
	case "min", "max":
		return fmt.Sprintf("value %v violates %s=%s", fe.Value(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// Device returns the named device, or nil.
func (c *AppConfig) Device(name string) *DeviceConfig {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i]
		}
	}
	return nil
}

// IntentDevice returns the device the intent is applied to.
func (c *AppConfig) IntentDevice() *DeviceConfig {
	if c.Intent.Device != "" {
		return c.Device(c.Intent.Device)
	}
	if len(c.Devices) == 0 {
		return nil
	}
	return &c.Devices[0]
}

// Marshal encodes the configuration as YAML.
func (c *AppConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
