package failover

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/telemetry"
)

// TelemetrySink maps orchestrator events onto Prometheus metrics and the
// telemetry event stream. Either field may be nil.
type TelemetrySink struct {
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
	Logger  zerolog.Logger
}

// NewTelemetrySink creates a sink for t.
func NewTelemetrySink(t *telemetry.Telemetry) *TelemetrySink {
	return &TelemetrySink{
		Metrics: t.Metrics,
		Events:  t.Events,
		Logger:  t.Logger.Zerolog(),
	}
}

// Record implements MetricsSink.
func (s *TelemetrySink) Record(e Event) {
	s.recordMetrics(e)
	if err := s.publish(e); err != nil {
		s.Logger.Debug().Err(err).Str("event", string(e.Type)).Msg("Failed to publish failover event")
	}
}

func (s *TelemetrySink) recordMetrics(e Event) {
	m := s.Metrics
	if m == nil {
		return
	}

	switch e.Type {
	case EventFailover:
		m.RecordSwitch(e.Group, telemetry.DirectionFailover)
	case EventFailback:
		m.RecordSwitch(e.Group, telemetry.DirectionFailback)
	case EventGroupState:
		m.SetGroupState(e.Group, e.Phase == PhaseBackupActive, e.Members, e.Interface)
	case EventGroupRemoved:
		m.DeleteGroup(e.Group)
	case EventMonitoringStarted:
		m.SetMonitoring(true)
	case EventMonitoringStopped:
		m.SetMonitoring(false)
	case EventHealthProbe:
		result := telemetry.ProbeUnhealthy
		switch {
		case e.Err != nil:
			result = telemetry.ProbeError
		case e.Healthy:
			result = telemetry.ProbeHealthy
		}
		m.RecordHealthProbe(e.Device, result, e.Duration)
	case EventInterfaceInventory:
		for _, iface := range e.Interfaces {
			m.SetInterface(e.Device, iface.Name, iface.Up, SpeedBits(iface.Speed))
		}
	}
}

func (s *TelemetrySink) publish(e Event) error {
	ep := s.Events
	if ep == nil {
		return nil
	}

	switch e.Type {
	case EventFailover:
		return ep.PublishSwitch(telemetry.DirectionFailover, e.Group, e.Device, e.From, e.To)
	case EventFailback:
		return ep.PublishSwitch(telemetry.DirectionFailback, e.Group, e.Device, e.From, e.To)
	case EventMonitoringStarted:
		return ep.PublishMonitoring(true, e.Groups)
	case EventMonitoringStopped:
		return ep.PublishMonitoring(false, e.Groups)
	case EventSwitchError:
		reason := "unknown"
		if e.Err != nil {
			reason = e.Err.Error()
		}
		return ep.PublishSwitchError(e.Group, e.Device, e.Interface, e.Healthy, reason)
	}
	return nil
}

// SpeedBits converts a reported speed ("1G", "2500M") to bits per second.
// Unparseable speeds are 0.
func SpeedBits(speed string) float64 {
	if bits := intent.SpeedBits(speed); bits > 0 {
		return bits
	}
	if len(speed) < 2 {
		return 0
	}

	var unit float64
	switch strings.ToUpper(speed[len(speed)-1:]) {
	case "M":
		unit = 1e6
	case "G":
		unit = 1e9
	default:
		return 0
	}
	n, err := strconv.ParseFloat(speed[:len(speed)-1], 64)
	if err != nil || n < 0 {
		return 0
	}
	return n * unit
}
