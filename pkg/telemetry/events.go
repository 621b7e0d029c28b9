package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry on the pathguard event stream. Subscribers such as the
// history store receive every event that passes their filter.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Group     string                 `json:"group,omitempty"`
	Device    string                 `json:"device,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeFailover          = "failover.triggered"
	EventTypeFailback          = "failback.triggered"
	EventTypeSwitchError       = "failover.switch_error"
	EventTypeMonitoringStarted = "monitoring.started"
	EventTypeMonitoringStopped = "monitoring.stopped"
	EventTypeConfigApplied     = "config.applied"
	EventTypePolicyViolation   = "policy.violation"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var (
	ErrPublisherStopped = errors.New("event publisher stopped")
	ErrBufferFull       = errors.New("event buffer full, event dropped")
)

// EventSubscriber handles one delivered event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should reach a subscriber.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers. In async mode events are
// queued and delivered in batches by one goroutine, so subscribers never run
// on the publishing goroutine and see events in publish order.
type EventPublisher struct {
	config EventsConfig
	buffer chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   sync.WaitGroup

	mu   sync.RWMutex
	subs []subscription
}

// NewEventPublisher starts the delivery goroutine when cfg asks for async
// delivery. A disabled publisher accepts and discards everything.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep, nil
	}
	if ep.config.MaxBatchSize < 1 {
		ep.config.MaxBatchSize = 1
	}
	if ep.config.FlushInterval <= 0 {
		ep.config.FlushInterval = time.Second
	}

	ep.ctx, ep.cancel = context.WithCancel(context.Background())
	ep.buffer = make(chan Event, cfg.BufferSize)

	if cfg.EnableAsync {
		ep.done.Add(1)
		go ep.run()
	}
	return ep, nil
}

// Subscribe registers fn. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

// Publish stamps event with an ID and time when missing and delivers or
// queues it. A full queue drops the event with ErrBufferFull.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if !ep.config.EnableAsync {
		ep.deliver(event)
		return nil
	}
	if ep.ctx.Err() != nil {
		return ErrPublisherStopped
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// PublishSwitch reports that group moved its active role from one interface
// to another. direction is DirectionFailover or DirectionFailback.
func (ep *EventPublisher) PublishSwitch(direction, group, device, from, to string) error {
	e := Event{
		Type:    EventTypeFailover,
		Source:  "failover",
		Group:   group,
		Device:  device,
		Level:   EventLevelWarning,
		Message: fmt.Sprintf("Group %s switched from %s to %s", group, from, to),
		Data:    map[string]interface{}{"from": from, "to": to},
	}
	if direction == DirectionFailback {
		e.Type, e.Level = EventTypeFailback, EventLevelInfo
	}
	return ep.Publish(e)
}

// PublishSwitchError reports an interface that could not be enabled or
// disabled during a switch.
func (ep *EventPublisher) PublishSwitchError(group, device, iface string, enable bool, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeSwitchError,
		Source:  "failover",
		Group:   group,
		Device:  device,
		Level:   EventLevelError,
		Message: fmt.Sprintf("Failed to set %s enabled=%t: %s", iface, enable, reason),
		Data:    map[string]interface{}{"interface": iface, "enable": enable, "reason": reason},
	})
}

// PublishMonitoring reports monitoring starting or stopping for a number of
// groups.
func (ep *EventPublisher) PublishMonitoring(started bool, groups int) error {
	e := Event{
		Type:    EventTypeMonitoringStopped,
		Source:  "failover",
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Monitoring stopped for %d groups", groups),
		Data:    map[string]interface{}{"groups": groups},
	}
	if started {
		e.Type = EventTypeMonitoringStarted
		e.Message = fmt.Sprintf("Monitoring started for %d groups", groups)
	}
	return ep.Publish(e)
}

// PublishConfigApplied reports a compiled configuration pushed to device.
func (ep *EventPublisher) PublishConfigApplied(device, network, digest string) error {
	return ep.Publish(Event{
		Type:    EventTypeConfigApplied,
		Source:  "apply",
		Device:  device,
		Level:   EventLevelInfo,
		Message: fmt.Sprintf("Configuration for %s applied to %s", network, device),
		Data:    map[string]interface{}{"network": network, "digest": digest},
	})
}

// PublishPolicyViolation reports a guardrail that rejected a configuration.
func (ep *EventPublisher) PublishPolicyViolation(device, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		Device:  device,
		Level:   EventLevelError,
		Message: fmt.Sprintf("Policy %s rejected the configuration: %s", policyName, reason),
		Data:    map[string]interface{}{"policy": policyName, "reason": reason},
	})
}

func (ep *EventPublisher) run() {
	defer ep.done.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ep.buffer:
			batch = append(batch, e)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.ctx.Done():
			for {
				select {
				case e := <-ep.buffer:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(e Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, s := range ep.subs {
		if s.filter == nil || s.filter(e) {
			s.fn(e)
		}
	}
}

// Shutdown stops accepting events and waits until queued ones are delivered
// or ctx expires.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}
	ep.cancel()

	drained := make(chan struct{})
	go func() {
		ep.done.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

func levelRank(level string) int {
	switch level {
	case EventLevelWarning:
		return 1
	case EventLevelError:
		return 2
	}
	return 0
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank(minLevel)
	return func(e Event) bool { return levelRank(e.Level) >= floor }
}

// FilterByType passes events whose type is one of types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// FilterAll passes events that every filter passes. Nil filters are skipped.
func FilterAll(filters ...EventFilter) EventFilter {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}
