// Package telemetry wires OpenTelemetry tracing and metrics behind a
// single switch. Export goes to stdout; operators who want an OTLP
// pipeline can point a collector at the process output.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/throttle-gate/throttlegate/internal/config"
)

const (
	serviceName = "throttle-gate"

	instrumentationName = "github.com/throttle-gate/throttlegate/internal/telemetry"

	consumeSpanName = "throttlegate.consume"
)

// Setup installs global trace and meter providers when telemetry is
// enabled. The returned shutdown function flushes and stops both
// providers; it is never nil and is safe to call when telemetry is
// disabled.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	shutdown, err := setup(ctx, os.Stdout)
	if err != nil {
		return nil, err
	}

	logger.Info("telemetry enabled", "exporter", "stdout")
	return shutdown, nil
}

// setup builds the providers against an arbitrary writer so tests can
// capture the export stream.
func setup(ctx context.Context, w io.Writer) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithEncoder(json.NewEncoder(w)))
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}, nil
}

// Recorder instruments the rate-limit decision path. A nil Recorder is
// valid and records nothing, so callers need no enabled checks.
type Recorder struct {
	tracer    trace.Tracer
	decisions metric.Int64Counter
}

// NewRecorder builds a Recorder against the global providers. Called
// before Setup (or with telemetry disabled) it binds to the no-op
// globals and costs next to nothing.
func NewRecorder() (*Recorder, error) {
	decisions, err := otel.Meter(instrumentationName).Int64Counter(
		"throttlegate.ratelimit.decisions",
		metric.WithDescription("Rate-limit decisions by profile and result."),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		tracer:    otel.Tracer(instrumentationName),
		decisions: decisions,
	}, nil
}

// ConsumeSpan opens the span covering one rate-limit decision. The
// returned end function records the result and closes the span.
func (r *Recorder) ConsumeSpan(ctx context.Context, profile string) (context.Context, func(allowed bool)) {
	if r == nil {
		return ctx, func(bool) {}
	}

	ctx, span := r.tracer.Start(ctx, consumeSpanName,
		trace.WithAttributes(attribute.String("profile", profile)))

	return ctx, func(allowed bool) {
		result := "allowed"
		if !allowed {
			result = "rejected"
		}
		span.SetAttributes(attribute.String("result", result))
		r.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("profile", profile),
			attribute.String("result", result),
		))
		span.End()
	}
}
