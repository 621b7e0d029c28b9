package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Probe results used as the result label of health_probes_total.
const (
	ProbeHealthy   = "healthy"
	ProbeUnhealthy = "unhealthy"
	ProbeError     = "error"
)

// Switch directions used as the direction label of failover_switch_events_total.
const (
	DirectionFailover = "failover"
	DirectionFailback = "failback"
)

// Metrics provides Prometheus metrics for pathguard. A Metrics created with
// metrics disabled is a no-op.
type Metrics struct {
	config MetricsConfig

	// Failover metrics
	switchEvents *prometheus.CounterVec
	groupPhase   *prometheus.GaugeVec
	groupActive  *prometheus.GaugeVec
	monitoring   prometheus.Gauge

	// Health probe metrics
	healthProbes  *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec

	// Interface inventory
	interfaceUp    *prometheus.GaugeVec
	interfaceSpeed *prometheus.GaugeVec

	// Configuration pipeline
	intentsCompiled  *prometheus.CounterVec
	configPushes     *prometheus.CounterVec
	policyViolations *prometheus.CounterVec

	buildInfo *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.ProbeBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		switchEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failover_switch_events_total",
				Help:      "Total number of failover and failback switches",
			},
			[]string{"group", "direction"},
		),
		groupPhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failover_group_phase",
				Help:      "Current phase of a failover group (0=primary active, 1=backup active)",
			},
			[]string{"group"},
		),
		groupActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failover_group_active",
				Help:      "Active member of a failover group (1=active, 0=standby)",
			},
			[]string{"group", "interface"},
		),
		monitoring: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "monitoring_active",
				Help:      "Whether health monitoring is running (1=running)",
			},
		),

		healthProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_probes_total",
				Help:      "Total number of interface health probes",
			},
			[]string{"device", "result"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_probe_duration_seconds",
				Help:      "Duration of interface health probes in seconds",
				Buckets:   buckets,
			},
			[]string{"device"},
		),

		interfaceUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "interface_up",
				Help:      "Link state of a device interface (1=up, 0=down)",
			},
			[]string{"device", "interface"},
		),
		interfaceSpeed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "interface_speed_bits",
				Help:      "Nominal speed of a device interface in bits per second",
			},
			[]string{"device", "interface"},
		),

		intentsCompiled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intents_compiled_total",
				Help:      "Total number of intent compilations",
			},
			[]string{"result"},
		),
		configPushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_pushes_total",
				Help:      "Total number of configuration pushes to devices",
			},
			[]string{"device", "result"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of guardrail policy violations",
			},
			[]string{"policy"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Build information",
			},
			[]string{"version"},
		),
	}

	registry.MustRegister(
		m.switchEvents,
		m.groupPhase,
		m.groupActive,
		m.monitoring,
		m.healthProbes,
		m.probeDuration,
		m.interfaceUp,
		m.interfaceSpeed,
		m.intentsCompiled,
		m.configPushes,
		m.policyViolations,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Failover Metrics

// RecordSwitch counts a failover or failback of group.
func (m *Metrics) RecordSwitch(group, direction string) {
	if m.switchEvents == nil {
		return
	}
	m.switchEvents.WithLabelValues(group, direction).Inc()
}

// SetGroupState publishes the phase and active member of a group. Members
// other than active are set to 0 and series of former members are removed.
func (m *Metrics) SetGroupState(group string, backupActive bool, members []string, active string) {
	if m.groupPhase == nil {
		return
	}
	phase := 0.0
	if backupActive {
		phase = 1.0
	}
	m.groupPhase.WithLabelValues(group).Set(phase)
	m.groupActive.DeletePartialMatch(prometheus.Labels{"group": group})
	for _, member := range members {
		value := 0.0
		if member == active {
			value = 1.0
		}
		m.groupActive.WithLabelValues(group, member).Set(value)
	}
}

// DeleteGroup removes every series of a deregistered group.
func (m *Metrics) DeleteGroup(group string) {
	if m.groupPhase == nil {
		return
	}
	m.groupPhase.DeleteLabelValues(group)
	m.groupActive.DeletePartialMatch(prometheus.Labels{"group": group})
	m.switchEvents.DeletePartialMatch(prometheus.Labels{"group": group})
}

// SetMonitoring sets the monitoring_active gauge.
func (m *Metrics) SetMonitoring(running bool) {
	if m.monitoring == nil {
		return
	}
	if running {
		m.monitoring.Set(1)
	} else {
		m.monitoring.Set(0)
	}
}

// Health Probe Metrics

// RecordHealthProbe records one probe with its result and duration.
func (m *Metrics) RecordHealthProbe(device, result string, duration time.Duration) {
	if m.healthProbes == nil {
		return
	}
	m.healthProbes.WithLabelValues(device, result).Inc()
	m.probeDuration.WithLabelValues(device).Observe(duration.Seconds())
}

// Inventory Metrics

// SetInterface publishes the observed link state and speed of an interface.
func (m *Metrics) SetInterface(device, name string, up bool, speedBits float64) {
	if m.interfaceUp == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	m.interfaceUp.WithLabelValues(device, name).Set(value)
	m.interfaceSpeed.WithLabelValues(device, name).Set(speedBits)
}

// Configuration Metrics

// RecordCompile counts an intent compilation by result (success, invalid).
func (m *Metrics) RecordCompile(result string) {
	if m.intentsCompiled == nil {
		return
	}
	m.intentsCompiled.WithLabelValues(result).Inc()
}

// RecordPush counts a configuration push by result (success, failure).
func (m *Metrics) RecordPush(device, result string) {
	if m.configPushes == nil {
		return
	}
	m.configPushes.WithLabelValues(device, result).Inc()
}

// RecordPolicyViolation counts a violation of the named policy.
func (m *Metrics) RecordPolicyViolation(policy string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy).Inc()
}

// SetBuildInfo publishes the running version.
func (m *Metrics) SetBuildInfo(version string) {
	if m.buildInfo == nil {
		return
	}
	m.buildInfo.WithLabelValues(version).Set(1)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
