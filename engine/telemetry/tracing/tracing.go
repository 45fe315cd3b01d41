// Package tracing wraps OpenTelemetry tracer setup and exposes the
// correlation IDs logging needs. The supervisor and router do not start
// spans; only ExtractIDs is used elsewhere in the module.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts spans for one named instrumentation scope.
type Tracer struct {
	tr trace.Tracer
}

// NewProvider builds an SDK TracerProvider for the given service name. The
// caller is responsible for registering an exporter-backed span processor
// via opts when one is wanted; with no processors the provider still
// produces valid, sampled no-op-cost spans usable purely for correlation.
func NewProvider(serviceName string, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res, _ := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(serviceName)))
	all := append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)
	return sdktrace.NewTracerProvider(all...)
}

// NewTracer wraps a TracerProvider's named tracer.
func NewTracer(provider trace.TracerProvider, name string) Tracer {
	return Tracer{tr: provider.Tracer(name)}
}

// Start begins a span, returning the derived context and an end function.
func (t Tracer) Start(ctx context.Context, spanName string, attrs ...trace.SpanStartOption) (context.Context, func()) {
	ctx, span := t.tr.Start(ctx, spanName, attrs...)
	return ctx, func() { span.End() }
}

// ExtractIDs returns the trace and span IDs carried by ctx's active span,
// or empty strings when ctx carries no span (e.g. in tests).
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

// SetGlobal installs provider as the process-wide default, matching how
// other packages that call otel.Tracer(name) pick it up implicitly.
func SetGlobal(provider trace.TracerProvider) { otel.SetTracerProvider(provider) }
