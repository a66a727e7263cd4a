package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracing installs a global TracerProvider that exports spans as
// indented JSON on stdout when enabled is true, or a no-op
// provider otherwise. The returned shutdown func flushes and releases
// the exporter; callers must call it before the process exits.
func InitTracing(ctx context.Context, enabled bool) (shutdown func(context.Context) error, err error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// InitOTelMetrics installs a global MeterProvider that periodically
// exports instrument readings as indented JSON on stdout when
// enabled is true, or a no-op provider otherwise. It backs the handful of
// session-lifecycle gauges (e.g. active proxy sessions) that are cheaper
// to express as OTel instruments than as Prometheus metrics needing their
// own scrape endpoint. The returned shutdown func flushes and releases
// the exporter; callers must call it before the process exits.
func InitOTelMetrics(ctx context.Context, enabled bool) (meter metric.Meter, shutdown func(context.Context) error, err error) {
	if !enabled {
		return otel.GetMeterProvider().Meter(TracerName), func(context.Context) error { return nil }, nil
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)

	return provider.Meter(TracerName), provider.Shutdown, nil
}

// InitMetricsRegistry creates the Prometheus registry and Metrics instance
// mcpguard records to. Pass the returned registry to an HTTP handler (via
// promhttp.HandlerFor) if metrics need to be scraped; mcpguard's CLI
// commands run to completion without one, so no HTTP exposition is wired
// by default.
func InitMetricsRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}
