// Package telemetry configures the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by the dispatcher.
const InstrumentationName = "github.com/flemzord/pelican"

// Config configures tracing.
type Config struct {
	// Endpoint is the OTLP/HTTP collector host:port. Empty disables export.
	Endpoint    string  `yaml:"otlp_endpoint"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func (c *Config) defaults() {
	if c.ServiceName == "" {
		c.ServiceName = "pelican"
	}
	if c.SampleRatio <= 0 || c.SampleRatio > 1 {
		c.SampleRatio = 1
	}
}

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

type errorHandler struct {
	logger *slog.Logger
}

func (h errorHandler) Handle(err error) {
	h.logger.Warn("telemetry: export error", "error", err)
}

// Setup installs a global tracer provider and returns its tracer. With no
// endpoint it returns the no-op tracer and a no-op shutdown.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (trace.Tracer, Shutdown, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()

	if cfg.Endpoint == "" {
		return otel.Tracer(InstrumentationName), func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create otlp exporter: %w", err)
	}

	provider := NewProvider(cfg, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(errorHandler{logger: logger})

	logger.Info("telemetry: tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	return provider.Tracer(InstrumentationName), provider.Shutdown, nil
}

// NewProvider builds a tracer provider with the service resource and
// sampler from cfg plus any extra options, such as a span processor.
func NewProvider(cfg Config, extra ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	cfg.defaults()
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	}
	return sdktrace.NewTracerProvider(append(opts, extra...)...)
}
