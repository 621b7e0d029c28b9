package stores

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pathguard/pkg/telemetry"
)

// RecordedEventTypes are the telemetry events persisted by EventRecorder.
var RecordedEventTypes = []string{
	telemetry.EventTypeFailover,
	telemetry.EventTypeFailback,
	telemetry.EventTypeSwitchError,
	telemetry.EventTypeMonitoringStarted,
	telemetry.EventTypeMonitoringStopped,
	telemetry.EventTypeConfigApplied,
	telemetry.EventTypePolicyViolation,
}

// EventRecorder returns a subscriber that appends telemetry events to store.
// Write failures are logged and the event is dropped.
func EventRecorder(store Store, logger zerolog.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := store.AppendEvent(ctx, FromTelemetryEvent(e)); err != nil {
			logger.Error().Err(err).Str("event", e.Type).Msg("Failed to persist event")
		}
	}
}

// Subscribe attaches an EventRecorder for RecordedEventTypes at minLevel or
// above to publisher. An empty minLevel records every level.
func Subscribe(publisher *telemetry.EventPublisher, store Store, minLevel string, logger zerolog.Logger) {
	publisher.Subscribe(EventRecorder(store, logger), telemetry.FilterAll(
		telemetry.FilterByType(RecordedEventTypes...),
		telemetry.FilterByLevel(minLevel),
	))
}

// FromTelemetryEvent converts a published event into a FailoverEvent.
func FromTelemetryEvent(e telemetry.Event) *FailoverEvent {
	return &FailoverEvent{
		EventID:   e.ID,
		Type:      e.Type,
		Group:     e.Group,
		Device:    e.Device,
		From:      dataString(e.Data, "from"),
		To:        dataString(e.Data, "to"),
		Level:     e.Level,
		Message:   e.Message,
		Timestamp: e.Timestamp,
	}
}

func dataString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
