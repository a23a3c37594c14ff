package otelpipe

import (
	"context"
	"strconv"

	"github.com/mpi-sws-rg/tracebench/hindsight"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config mirrors the server CLI flags from spec.md §6 that select and
// parameterize a tracing backend.
type Config struct {
	// Tracer is the -x flag: one of none, hindsight, ot-hindsight,
	// ot-jaeger, ot-stdout, ot-noop, ot-local.
	Tracer string
	// CollectorHost/CollectorPort are -h/-p, used by ot-jaeger.
	CollectorHost string
	CollectorPort int
	// SimpleSpanProcessor is -s: use a synchronous SimpleSpanProcessor
	// instead of the batching processor.
	SimpleSpanProcessor bool
	ServiceName         string
	InstanceID          int
	Agent               *hindsight.Agent
}

// Shutdown flushes and stops whatever SDK resources Setup created.
type Shutdown func(context.Context) error

// Setup builds a Strategy and OTel SDK plumbing (TracerProvider,
// propagator) for the given -x selection, matching the shape
// distribution-distribution's tracing.InitOpenTelemetry wires up:
// resource.NewWithAttributes, an exporter, a span processor, and
// otel.SetTracerProvider/SetTextMapPropagator.
func Setup(cfg Config) (Strategy, Shutdown, error) {
	switch cfg.Tracer {
	case "", "none":
		return NoTracing{}, noopShutdown, nil
	case "hindsight":
		return HindsightOnly{Agent: cfg.Agent}, noopShutdown, nil
	case "ot-noop":
		return OtelOnly{Tracer: otel.Tracer("tracebench")}, noopShutdown, nil
	case "ot-hindsight":
		tp, shutdown, err := newTracerProvider(cfg, newNoopExporter())
		if err != nil {
			return nil, nil, err
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		return OtelOverHindsight{
			Hindsight: HindsightOnly{Agent: cfg.Agent},
			Otel:      OtelOnly{Tracer: tp.Tracer("tracebench")},
		}, shutdown, nil
	case "ot-stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, errors.Wrap(err, "otelpipe: constructing stdout exporter")
		}
		tp, shutdown, err := newTracerProvider(cfg, exp)
		if err != nil {
			return nil, nil, err
		}
		otel.SetTracerProvider(tp)
		return OtelOnly{Tracer: tp.Tracer("tracebench")}, shutdown, nil
	case "ot-jaeger":
		exp, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(collectorEndpoint(cfg)),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "otelpipe: dialing otlp collector")
		}
		tp, shutdown, err := newTracerProvider(cfg, exp)
		if err != nil {
			return nil, nil, err
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		return OtelOnly{Tracer: tp.Tracer("tracebench")}, shutdown, nil
	case "ot-local":
		exp, err := stdouttrace.New()
		if err != nil {
			return nil, nil, errors.Wrap(err, "otelpipe: constructing local exporter")
		}
		tp, shutdown, err := newTracerProvider(cfg, exp)
		if err != nil {
			return nil, nil, err
		}
		otel.SetTracerProvider(tp)
		return OtelOnly{Tracer: tp.Tracer("tracebench")}, shutdown, nil
	default:
		return nil, nil, errors.Errorf("otelpipe: unknown tracer %q", cfg.Tracer)
	}
}

func noopShutdown(context.Context) error { return nil }

// noopExporter discards every span. It backs ot-hindsight, where OTel's
// context-propagation shape is wanted (so a breadcrumb-equivalent trace
// context still flows over the wire) without a second real export
// destination competing with the Hindsight pipeline's own trigger-gated
// export.
type noopExporter struct{}

func newNoopExporter() sdktrace.SpanExporter { return noopExporter{} }

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (noopExporter) Shutdown(context.Context) error                            { return nil }

func collectorEndpoint(cfg Config) string {
	host := cfg.CollectorHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.CollectorPort
	if port == 0 {
		port = 4317
	}
	return host + ":" + strconv.Itoa(port)
}

func newTracerProvider(cfg Config, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, Shutdown, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceInstanceIDKey.String(strconv.Itoa(cfg.InstanceID)),
		),
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "otelpipe: building resource")
	}

	var processor sdktrace.SpanProcessor
	if cfg.SimpleSpanProcessor {
		processor = sdktrace.NewSimpleSpanProcessor(exporter)
	} else {
		processor = sdktrace.NewBatchSpanProcessor(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	shutdown := func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}
	return tp, shutdown, nil
}
