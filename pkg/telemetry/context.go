package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is everything a pathguard process reports through: logs, spans,
// Prometheus metrics and the failover event stream.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds each component in turn.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("telemetry config: %w", err)
	}

	t := &Telemetry{Config: cfg}
	var err error

	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	t.Metrics.SetBuildInfo(cfg.ServiceVersion)
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return t, nil
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// FromTelemetryContext returns the Telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// Shutdown drains queued events first so their spans are still exported.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// Operation is one traced unit of work such as an apply or a reload.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation opens a span named name when ctx carries a Telemetry. The
// returned logger is tagged with the operation and, when sampled, the trace
// and span IDs.
func StartOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) *Operation {
	op := &Operation{Ctx: ctx, Timer: NewTimer()}

	t := FromTelemetryContext(ctx)
	if t == nil {
		op.Logger = LoggerFrom(ctx).ForOperation(name)
		return op
	}

	op.Ctx, op.Span = t.Tracer.StartSpan(ctx, name, attrs...)
	op.Logger = t.Logger.ForOperation(name)
	if sc := op.Span.SpanContext(); sc.IsValid() {
		op.Logger = &Logger{Logger: op.Logger.With().
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String()).
			Logger()}
	}
	return op
}

// End closes the span with err's outcome.
func (op *Operation) End(err error) {
	if op.Span == nil {
		return
	}
	if err != nil {
		RecordError(op.Span, err)
	} else {
		RecordSuccess(op.Span)
	}
	op.Span.End()
}
