// Package telemetry provides opt-in OpenTelemetry trace export for
// RelayCore, grounded on jordanhubbard-tokenhub's internal/tracing: an
// OTLP HTTP exporter behind a config flag, no-op when disabled.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/relaycore/relaycore/internal/config"
)

// Setup installs a global TracerProvider exporting spans over OTLP/HTTP
// when cfg.EnableTracing and cfg.OTLPEndpoint are set (§2 Monitoring
// config). The returned shutdown flushes pending spans; it is a no-op
// when tracing is disabled.
func Setup(cfg config.MonitoringConfig) (shutdown func(context.Context) error, err error) {
	if !cfg.EnableTracing || cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "relaycore"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
