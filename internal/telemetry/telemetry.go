// Package telemetry wires OpenTelemetry tracing for pipeline stages.
//
// Tracing is off by default. When disabled a no-op provider is installed and
// spans cost nothing. With stdout enabled, spans are pretty-printed to stderr.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/Ajith-Anand-R/VANGUARD"

// Options selects exporters.
type Options struct {
	Enabled bool
	Stdout  bool
	// Writer overrides the stdout exporter destination. Nil means stderr.
	Writer io.Writer
	// Exporter, when set, is used in addition to stdout. Tests use it with
	// an in-memory exporter.
	Exporter sdktrace.SpanExporter
	Version  string
}

// Provider owns the tracer provider for the process.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Init builds a provider and installs it globally.
func Init(ctx context.Context, opts Options) (*Provider, error) {
	if !opts.Enabled {
		tp := tracenoop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return &Provider{tp: tp, shutdown: func(context.Context) error { return nil }}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", "vanguard"),
			attribute.String("service.version", opts.Version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	spanOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if opts.Stdout {
		w := opts.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		spanOpts = append(spanOpts, sdktrace.WithBatcher(exp))
	}
	if opts.Exporter != nil {
		spanOpts = append(spanOpts, sdktrace.WithSyncer(opts.Exporter))
	}

	tp := sdktrace.NewTracerProvider(spanOpts...)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

// Tracer returns the pipeline tracer. A nil provider falls back to the global one.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return otel.Tracer(instrumentationScope)
	}
	return p.tp.Tracer(instrumentationScope)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
