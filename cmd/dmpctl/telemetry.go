package main

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTelemetry installs a real SDK tracer/meter provider as the global
// otel providers, so the "tracing"/"metrics" middlewares (which pull
// otel.Tracer("dmp")/otel.Meter("dmp") at registration time) actually
// export something instead of talking to the no-op default. Tracing
// spans are written to stdout via a batch span processor; metrics are
// aggregated in-process with no exporter wired yet, matching the
// reference telemetry setup's resource-then-provider construction order.
func setupTelemetry(_ context.Context) (shutdown func(context.Context) error, err error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", "dmpctl"),
		attribute.String("service.version", "0.1.0"),
	)

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tracerProvider)

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(meterProvider)

	return func(shutdownCtx context.Context) error {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return meterProvider.Shutdown(shutdownCtx)
	}, nil
}
