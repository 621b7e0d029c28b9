package config

import "time"

// Device kinds.
const (
	KindSimulated = "simulated"
	KindSSH       = "ssh"
)

// AppConfig is the pathguard process configuration.
type AppConfig struct {
	// Devices are the network devices pathguard manages.
	Devices []DeviceConfig `json:"devices" yaml:"devices" validate:"required,min=1,unique=Name,dive"`

	// Failover tunes the monitoring loop.
	Failover FailoverConfig `json:"failover" yaml:"failover"`

	// Intent locates and compiles the network intent.
	Intent IntentConfig `json:"intent" yaml:"intent"`

	// Store configures persistence of intents and switch history.
	Store StoreConfig `json:"store" yaml:"store"`

	// Policy configures guardrail policies evaluated before a push.
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// DeviceConfig describes a single device and how to reach it.
type DeviceConfig struct {
	// Name identifies the device in logs, metrics and the store.
	Name string `json:"name" yaml:"name" validate:"required,max=64"`

	// Kind selects the transport (simulated, ssh).
	Kind string `json:"kind" yaml:"kind" validate:"required,oneof=simulated ssh"`

	// SSH holds connection settings for ssh devices.
	SSH *SSHConfig `json:"ssh,omitempty" yaml:"ssh,omitempty" validate:"required_if=Kind ssh"`

	// Interfaces seeds a simulated device. Ignored for ssh devices.
	Interfaces []string `json:"interfaces,omitempty" yaml:"interfaces,omitempty" validate:"dive,required"`
}

// SSHConfig holds SSH connection settings for a device.
type SSHConfig struct {
	Host string `json:"host" yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port int    `json:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	User string `json:"user" yaml:"user" validate:"required"`

	// Password is used when no private key is configured.
	Password string `json:"password,omitempty" yaml:"password,omitempty"`

	// PrivateKeyPath points at a PEM-encoded private key.
	PrivateKeyPath string `json:"privateKeyPath,omitempty" yaml:"privateKeyPath,omitempty"`

	// KnownHostsPath enables host key verification when StrictHostKeyChecking is set.
	KnownHostsPath        string `json:"knownHostsPath,omitempty" yaml:"knownHostsPath,omitempty"`
	StrictHostKeyChecking bool   `json:"strictHostKeyChecking" yaml:"strictHostKeyChecking"`

	// UseSudo prefixes interface commands with sudo.
	UseSudo bool `json:"useSudo" yaml:"useSudo"`

	// StagingDir receives uploaded configuration documents.
	StagingDir string `json:"stagingDir,omitempty" yaml:"stagingDir,omitempty"`

	ConnectionTimeout time.Duration `json:"connectionTimeout,omitempty" yaml:"connectionTimeout,omitempty"`
	CommandTimeout    time.Duration `json:"commandTimeout,omitempty" yaml:"commandTimeout,omitempty"`
}

// FailoverConfig tunes health monitoring and switching.
type FailoverConfig struct {
	// Interval is the time between monitoring cycles of a group.
	Interval time.Duration `json:"interval" yaml:"interval" validate:"min=100ms"`

	// FailureThreshold is the number of consecutive unhealthy probes before failover.
	FailureThreshold int `json:"failureThreshold" yaml:"failureThreshold" validate:"min=1"`

	// RecoveryThreshold is the number of consecutive healthy primary probes before failback.
	RecoveryThreshold int `json:"recoveryThreshold" yaml:"recoveryThreshold" validate:"min=1"`

	// ProbeTimeout bounds a single transport call.
	ProbeTimeout time.Duration `json:"probeTimeout" yaml:"probeTimeout" validate:"min=10ms"`

	// StopTimeout bounds how long StopMonitoring waits for in-flight cycles.
	StopTimeout time.Duration `json:"stopTimeout" yaml:"stopTimeout" validate:"min=10ms"`
}

// IntentConfig locates the intent document and tunes compilation.
type IntentConfig struct {
	// Path is the intent document (YAML or JSON).
	Path string `json:"path" yaml:"path"`

	// Device is the device the compiled configuration is applied to.
	// Empty selects the first configured device.
	Device string `json:"device,omitempty" yaml:"device,omitempty"`

	// Strategy selects how failover groups are derived (pair, chain, script).
	Strategy string `json:"strategy" yaml:"strategy" validate:"oneof=pair chain script"`

	// Script is the Starlark grouping script used by the script strategy.
	Script string `json:"script,omitempty" yaml:"script,omitempty" validate:"required_if=Strategy script"`

	InterfaceCount  int    `json:"interfaceCount" yaml:"interfaceCount" validate:"min=1,max=64"`
	InterfacePrefix string `json:"interfacePrefix" yaml:"interfacePrefix" validate:"required,alphanum"`
	AddressOffset   int    `json:"addressOffset" yaml:"addressOffset" validate:"min=1"`

	// Watch recompiles and reapplies the intent when its file changes.
	Watch bool `json:"watch" yaml:"watch"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	// Path is the database file. Empty disables persistence.
	Path string `json:"path" yaml:"path"`

	// HistoryLevel is the lowest event level kept in the switch history.
	HistoryLevel string `json:"historyLevel" yaml:"historyLevel" validate:"omitempty,oneof=info warning error"`
}

// PolicyConfig configures guardrail policies.
type PolicyConfig struct {
	// Paths are additional .rego files or directories.
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"`

	// DisableBuiltins skips the built-in guardrails.
	DisableBuiltins bool `json:"disableBuiltins" yaml:"disableBuiltins"`

	// Watch reloads policies when files under Paths change.
	Watch bool `json:"watch" yaml:"watch"`
}

// TelemetryConfig configures logging, tracing, metrics and events.
type TelemetryConfig struct {
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// EventBuffer sizes the event publisher queue.
	EventBuffer int `json:"eventBuffer" yaml:"eventBuffer" validate:"min=1"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=console json"`
	Output string `json:"output" yaml:"output" validate:"required"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Exporter     string  `json:"exporter" yaml:"exporter" validate:"oneof=stdout otlp none"`
	Endpoint     string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"samplingRate" yaml:"samplingRate" validate:"min=0,max=1"`
	Insecure     bool    `json:"insecure" yaml:"insecure"`
}

// MetricsConfig configures the metrics and status listener.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ListenAddress string `json:"listenAddress" yaml:"listenAddress" validate:"required_if=Enabled true"`
	Path          string `json:"path" yaml:"path" validate:"startswith=/"`
}

// ValidationError is a configuration problem with its location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Path is the dotted path to the offending field (e.g. "devices[0].kind").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}
