package failover

import (
	"time"

	"github.com/openfroyo/pathguard/pkg/config"
	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/transports"
)

// Phase is the state of a failover group.
type Phase string

const (
	// PhasePrimaryActive means the group is served by a primary interface.
	PhasePrimaryActive Phase = "PRIMARY_ACTIVE"

	// PhaseBackupActive means the group has failed over to a backup interface.
	PhaseBackupActive Phase = "BACKUP_ACTIVE"
)

// Config tunes monitoring and switching.
type Config struct {
	// Interval is the time between monitoring cycles of a group.
	Interval time.Duration

	// FailureThreshold is the number of consecutive unhealthy probes of the
	// active interface that triggers a failover.
	FailureThreshold int

	// RecoveryThreshold is the number of consecutive healthy probes of the
	// first primary that triggers a failback.
	RecoveryThreshold int

	// ProbeTimeout bounds a single transport call.
	ProbeTimeout time.Duration

	// StopTimeout bounds how long StopMonitoring waits for in-flight cycles.
	StopTimeout time.Duration
}

// DefaultConfig returns the default monitoring configuration.
func DefaultConfig() Config {
	return Config{
		Interval:          10 * time.Second,
		FailureThreshold:  3,
		RecoveryThreshold: 5,
		ProbeTimeout:      5 * time.Second,
		StopTimeout:       15 * time.Second,
	}
}

// ConfigFrom converts the application failover section.
func ConfigFrom(fc config.FailoverConfig) Config {
	return Config{
		Interval:          fc.Interval,
		FailureThreshold:  fc.FailureThreshold,
		RecoveryThreshold: fc.RecoveryThreshold,
		ProbeTimeout:      fc.ProbeTimeout,
		StopTimeout:       fc.StopTimeout,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = d.RecoveryThreshold
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}

// GroupState is the mutable state of one registered group.
type GroupState struct {
	Group         intent.FailoverGroup
	Device        string
	Phase         Phase
	CurrentActive string
	Failures      int
	Recoveries    int
	LastCheck     time.Time
	LastSwitch    time.Time
	Switches      int
}

// Status returns an immutable view of the state.
func (s *GroupState) Status() GroupStatus {
	return GroupStatus{
		Name:          s.Group.Name,
		Device:        s.Device,
		Phase:         s.Phase,
		CurrentActive: s.CurrentActive,
		Primaries:     append([]string(nil), s.Group.PrimaryInterfaces...),
		Backups:       append([]string(nil), s.Group.BackupInterfaces...),
		Failures:      s.Failures,
		Recoveries:    s.Recoveries,
		LastCheck:     s.LastCheck,
		LastSwitch:    s.LastSwitch,
		Switches:      s.Switches,
	}
}

// GroupStatus is a point-in-time snapshot of a group.
type GroupStatus struct {
	Name          string    `json:"name"`
	Device        string    `json:"device"`
	Phase         Phase     `json:"phase"`
	CurrentActive string    `json:"currentActive"`
	Primaries     []string  `json:"primaries"`
	Backups       []string  `json:"backups"`
	Failures      int       `json:"failures"`
	Recoveries    int       `json:"recoveries"`
	LastCheck     time.Time `json:"lastCheck,omitempty"`
	LastSwitch    time.Time `json:"lastSwitch,omitempty"`
	Switches      int       `json:"switches"`
}

func (s GroupStatus) clone() GroupStatus {
	s.Primaries = append([]string(nil), s.Primaries...)
	s.Backups = append([]string(nil), s.Backups...)
	return s
}

// EventType identifies what an orchestrator Event reports.
type EventType string

// Event types.
const (
	EventFailover           EventType = "failover_triggered"
	EventFailback           EventType = "failback_triggered"
	EventMonitoringStarted  EventType = "monitoring_started"
	EventMonitoringStopped  EventType = "monitoring_stopped"
	EventGroupState         EventType = "group_state"
	EventGroupRemoved       EventType = "group_removed"
	EventHealthProbe        EventType = "health_probe"
	EventSwitchError        EventType = "switch_error"
	EventInterfaceInventory EventType = "interface_inventory"
)

// Event is emitted to the MetricsSink. Fields not relevant to Type are zero.
type Event struct {
	Type      EventType
	Group     string
	Device    string
	Interface string

	// From and To are the interfaces involved in a switch.
	From string
	To   string

	Phase   Phase
	Members []string

	// Healthy is the probe result, or the requested enable state for a
	// switch_error.
	Healthy  bool
	Duration time.Duration
	Err      error
	Time     time.Time

	// Interfaces carries an inventory refresh.
	Interfaces []transports.InterfaceStatus

	// Groups is the number of groups when monitoring starts or stops.
	Groups int
}

// MetricsSink receives orchestrator events. Record must not block for long;
// it is called from monitoring goroutines.
type MetricsSink interface {
	Record(Event)
}

// SinkFunc adapts a function to MetricsSink.
type SinkFunc func(Event)

// Record implements MetricsSink.
func (f SinkFunc) Record(e Event) { f(e) }

// NopSink discards every event.
type NopSink struct{}

// Record implements MetricsSink.
func (NopSink) Record(Event) {}

// MultiSink fans every event out to each sink in order.
type MultiSink []MetricsSink

// Record implements MetricsSink.
func (m MultiSink) Record(e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}
