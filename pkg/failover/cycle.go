package failover

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/pathguard/pkg/intent"
	"github.com/openfroyo/pathguard/pkg/telemetry"
)

// runCycle probes the active interface of g and switches when a threshold is
// reached. Panics are contained and returned as errors.
func (o *Orchestrator) runCycle(ctx context.Context, g *group) (err error) {
	ctx, span := otel.Tracer(telemetry.InstrumentationName).Start(ctx, "failover.cycle")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = newStateError(CodePanic, "monitoring cycle panicked: %v", r)
			o.logger.Error().Interface("panic", r).Msg("Recovered from panic in monitoring cycle")
			span.SetStatus(codes.Error, fmt.Sprint(r))
		}
	}()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.removed.Load() {
		return nil
	}
	o.adoptPending(g)
	defer func() {
		o.adoptPending(g)
		o.publishGroup(g)
	}()

	s := &g.state
	span.SetAttributes(
		telemetry.AttrGroup.String(s.Group.Name),
		telemetry.AttrDevice.String(s.Device),
		telemetry.AttrInterface.String(s.CurrentActive),
	)

	log := o.logger.With().Str("group", s.Group.Name).Str("device", s.Device).Logger()

	healthy := o.probe(ctx, g, s.CurrentActive)
	if ctx.Err() != nil {
		// A cancelled probe says nothing about the link.
		return nil
	}
	s.LastCheck = time.Now()

	if !healthy {
		s.Failures++
		s.Recoveries = 0
		log.Warn().
			Str("interface", s.CurrentActive).
			Int("failures", s.Failures).
			Int("threshold", o.cfg.FailureThreshold).
			Msg("Active interface unhealthy")

		if s.Failures >= o.cfg.FailureThreshold && !g.superseded() {
			o.failover(ctx, g, span)
		}
		return nil
	}

	s.Failures = 0
	if s.Phase != PhaseBackupActive {
		return nil
	}

	primary := s.Group.PrimaryInterfaces[0]
	primaryHealthy := o.probe(ctx, g, primary)
	if ctx.Err() != nil {
		return nil
	}
	if !primaryHealthy {
		s.Recoveries = 0
		return nil
	}

	s.Recoveries++
	log.Debug().
		Str("primary", primary).
		Int("recoveries", s.Recoveries).
		Int("threshold", o.cfg.RecoveryThreshold).
		Msg("Primary interface healthy")
	if s.Recoveries >= o.cfg.RecoveryThreshold && !g.superseded() {
		o.failback(ctx, g, span)
	}
	return nil
}

// adoptPending swaps in a state parked by re-registration and republishes
// its gauge. Requires g.mu.
func (o *Orchestrator) adoptPending(g *group) {
	if next := g.pending.Swap(nil); next != nil {
		g.state = *next
		o.recordState(&g.state)
	}
}

// superseded reports whether a registration has replaced the state the
// running cycle works on. Such a cycle must not switch the device.
func (g *group) superseded() bool {
	return g.pending.Load() != nil
}

// probe checks one interface of g. A probe error counts as unhealthy.
func (o *Orchestrator) probe(ctx context.Context, g *group, iface string) bool {
	dev := g.device
	start := time.Now()

	var healthy bool
	err := o.withDevice(ctx, dev, o.cfg.ProbeTimeout, func(ctx context.Context) error {
		var err error
		healthy, err = dev.transport.CheckHealth(ctx, iface)
		return err
	})

	o.sink.Record(Event{
		Type:      EventHealthProbe,
		Group:     g.state.Group.Name,
		Device:    dev.name,
		Interface: iface,
		Healthy:   err == nil && healthy,
		Duration:  time.Since(start),
		Err:       err,
		Time:      time.Now(),
	})

	if err != nil {
		o.logger.Warn().
			Err(err).
			Str("group", g.state.Group.Name).
			Str("device", dev.name).
			Str("interface", iface).
			Msg("Health probe failed")
		return false
	}
	return healthy
}

// failover moves g to a backup. The first backup other than the current
// active interface that probes healthy is chosen, falling back to the first
// backup. Counters reset whether or not a switch happens. If ctx is cancelled
// or the group is re-registered before the backup is enabled, nothing
// changes. Once the backup is enabled the switch is committed.
func (o *Orchestrator) failover(ctx context.Context, g *group, span trace.Span) {
	s := &g.state
	backups := s.Group.BackupInterfaces
	if len(backups) == 0 {
		s.Failures = 0
		s.Recoveries = 0
		o.logger.Warn().Str("group", s.Group.Name).Msg("Failure threshold reached but group has no backup interfaces")
		return
	}

	target := ""
	for _, candidate := range backups {
		if candidate == s.CurrentActive {
			continue
		}
		if o.probe(ctx, g, candidate) {
			target = candidate
			break
		}
	}
	if ctx.Err() != nil || g.superseded() {
		return
	}

	if target == "" {
		target = backups[0]
	}
	if target == s.CurrentActive {
		s.Failures = 0
		s.Recoveries = 0
		o.logger.Warn().
			Str("group", s.Group.Name).
			Str("interface", target).
			Msg("No alternative backup interface, keeping current")
		return
	}

	from := s.CurrentActive
	if err := o.setEnabled(ctx, g, target, true); err == nil {
		_ = o.setEnabled(ctx, g, from, false)
	} else {
		if ctx.Err() != nil {
			return
		}
		// Leave the old interface enabled rather than both disabled.
		o.logger.Warn().
			Str("group", s.Group.Name).
			Str("interface", from).
			Msg("Backup activation failed, keeping previous interface enabled")
	}

	s.Failures = 0
	s.Recoveries = 0
	o.switched(g, PhaseBackupActive, from, target)
	telemetry.AddSwitchEvent(span, telemetry.DirectionFailover, from, target)
	o.sink.Record(Event{
		Type:   EventFailover,
		Group:  s.Group.Name,
		Device: s.Device,
		From:   from,
		To:     target,
		Phase:  s.Phase,
		Time:   s.LastSwitch,
	})
	o.logger.Warn().
		Str("group", s.Group.Name).
		Str("device", s.Device).
		Str("from", from).
		Str("to", target).
		Msg("Failover triggered")
}

// failback returns g to its first primary. If the primary cannot be
// activated the backup stays active and recovery starts over.
func (o *Orchestrator) failback(ctx context.Context, g *group, span trace.Span) {
	s := &g.state
	primary := s.Group.PrimaryInterfaces[0]
	from := s.CurrentActive

	if err := o.setEnabled(ctx, g, primary, true); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.Recoveries = 0
		o.logger.Error().
			Err(err).
			Str("group", s.Group.Name).
			Str("primary", primary).
			Msg("Failback aborted, backup stays active")
		return
	}
	if from != primary {
		_ = o.setEnabled(ctx, g, from, false)
	}

	s.Failures = 0
	s.Recoveries = 0
	o.switched(g, PhasePrimaryActive, from, primary)
	telemetry.AddSwitchEvent(span, telemetry.DirectionFailback, from, primary)
	o.sink.Record(Event{
		Type:   EventFailback,
		Group:  s.Group.Name,
		Device: s.Device,
		From:   from,
		To:     primary,
		Phase:  s.Phase,
		Time:   s.LastSwitch,
	})
	o.logger.Info().
		Str("group", s.Group.Name).
		Str("device", s.Device).
		Str("from", from).
		Str("to", primary).
		Msg("Failback triggered")
}

func (o *Orchestrator) switched(g *group, phase Phase, from, to string) {
	s := &g.state
	s.Phase = phase
	s.CurrentActive = to
	s.LastSwitch = time.Now()
	s.Switches++
	o.recordState(s)
}

// recordState emits the gauge view of a group.
func (o *Orchestrator) recordState(s *GroupState) {
	o.sink.Record(Event{
		Type:      EventGroupState,
		Group:     s.Group.Name,
		Device:    s.Device,
		Interface: s.CurrentActive,
		Phase:     s.Phase,
		Members:   s.Group.Members(),
		Time:      time.Now(),
	})
}

// setEnabled pushes a targeted enable or disable of one interface.
func (o *Orchestrator) setEnabled(ctx context.Context, g *group, iface string, enabled bool) error {
	dev := g.device
	err := o.withDevice(ctx, dev, o.cfg.ProbeTimeout, func(ctx context.Context) error {
		return dev.transport.PushConfig(ctx, intent.EnableDocument(iface, enabled))
	})
	if err == nil {
		return nil
	}

	o.sink.Record(Event{
		Type:      EventSwitchError,
		Group:     g.state.Group.Name,
		Device:    dev.name,
		Interface: iface,
		Healthy:   enabled,
		Err:       err,
		Time:      time.Now(),
	})
	o.logger.Error().
		Err(err).
		Str("group", g.state.Group.Name).
		Str("device", dev.name).
		Str("interface", iface).
		Bool("enabled", enabled).
		Msg("Failed to change interface state")
	return newTransportError("interface state change failed", err).
		WithGroup(g.state.Group.Name).WithDevice(dev.name).WithInterface(iface)
}
