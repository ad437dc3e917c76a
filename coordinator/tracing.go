package coordinator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func attributeServiceName(name string) attribute.KeyValue {
	if name == "" {
		name = "metacoord"
	}
	return attribute.String("service.name", name)
}

// tracer is the package-wide tracer used to span each commit phase.
var tracer = otel.Tracer("github.com/lakehouse/metacoord/coordinator")

// InitTracing wires an OTLP/HTTP exporter into the process-wide
// TracerProvider, the way the teacher's distributedtracing package does for
// its own commands, trimmed to the one transport this module needs. Passing
// an empty endpoint is a no-op: commit phases still open spans, but they
// fall through to the no-op global provider and cost nothing.
func InitTracing(ctx context.Context, endpoint, serviceName string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attributeServiceName(serviceName),
	))
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// startPhase opens a span named "commit.<phase>" and returns a function that
// ends it, recording err if non-nil. The prepare, apply, irreversible and
// finish phases are wrapped with this; the wait phase opens no span. Commit
// opens no enclosing span, so the phase spans are children of whatever span
// the caller's ctx carries.
func startPhase(ctx context.Context, phase string) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, "commit."+phase)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
