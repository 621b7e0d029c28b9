package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstrumentationName names the tracer every pathguard package uses.
const InstrumentationName = "github.com/openfroyo/pathguard"

// Span attribute keys.
var (
	AttrNetwork   = attribute.Key("pathguard.network")
	AttrStrategy  = attribute.Key("pathguard.strategy")
	AttrDevice    = attribute.Key("pathguard.device")
	AttrGroup     = attribute.Key("pathguard.group")
	AttrInterface = attribute.Key("pathguard.interface")
	AttrTargeted  = attribute.Key("pathguard.targeted")
	AttrFrom      = attribute.Key("pathguard.from")
	AttrTo        = attribute.Key("pathguard.to")
)

// Tracer starts pathguard spans. With tracing disabled it uses the global
// (no-op unless someone installed one) provider.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a provider for cfg and installs it globally, so packages
// that call otel.Tracer directly share it.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(InstrumentationName)}, nil
	}

	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("trace exporter %q: %w", cfg.Exporter, err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(serviceVersion),
		attribute.String("environment", environment),
	))
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		var batch []sdktrace.BatchSpanProcessorOption
		if cfg.MaxExportBatchSize > 0 {
			batch = append(batch, sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize))
		}
		if cfg.ExportTimeout > 0 {
			batch = append(batch, sdktrace.WithExportTimeout(cfg.ExportTimeout))
		}
		opts = append(opts, sdktrace.WithBatcher(exporter, batch...))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{provider: provider, tracer: provider.Tracer(InstrumentationName)}, nil
}

// newSpanExporter returns nil for "none": spans are sampled but dropped.
func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithUserAgent("pathguard")),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	}
	return nil, fmt.Errorf("unsupported exporter")
}

// StartSpan starts a span carrying attrs.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartCompileSpan covers one intent compilation.
func (t *Tracer) StartCompileSpan(ctx context.Context, network, strategy string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "intent.compile", AttrNetwork.String(network), AttrStrategy.String(strategy))
}

// StartPushSpan covers one configuration push to a device.
func (t *Tracer) StartPushSpan(ctx context.Context, device string, targeted bool) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "device.push", AttrDevice.String(device), AttrTargeted.Bool(targeted))
}

// Shutdown exports buffered spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// RecordError marks span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks span OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSwitchEvent adds a span event named after direction (failover or
// failback) for a switch from one interface to another.
func AddSwitchEvent(span trace.Span, direction, from, to string) {
	span.AddEvent(direction, trace.WithAttributes(AttrFrom.String(from), AttrTo.String(to)))
}
