// Package observability provides OpenTelemetry-based observability for
// the content core: trace and metric providers with OTLP export, and RED
// (Rate, Errors, Duration) metrics for lifecycle, validation and store
// operations.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "klauselwerk-core",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages the trace and metric providers and owns the Recorder
// handed to the services.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger
	recorder       *Recorder
}

// New creates a provider. With Enabled=false everything stays a no-op and
// Recorder() returns nil, which the services tolerate.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("klauselwerk.core",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("klauselwerk.core",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	rec, err := newRecorder(p.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	p.recorder = rec

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint)}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

// Recorder returns the metrics recorder, nil when disabled.
func (p *Provider) Recorder() *Recorder { return p.recorder }

// Tracer returns the core tracer, nil when disabled.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var first error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder records the RED metrics of the core. A nil *Recorder is valid
// and records nothing, so services never need to guard their calls.
type Recorder struct {
	published   metric.Int64Counter
	validations metric.Int64Counter
	evalSeconds metric.Float64Histogram
	storeErrors metric.Int64Counter
}

func newRecorder(m metric.Meter) (*Recorder, error) {
	published, err := m.Int64Counter("content.versions.published",
		metric.WithDescription("Versions published, by entity kind"))
	if err != nil {
		return nil, err
	}
	validations, err := m.Int64Counter("validation.runs",
		metric.WithDescription("Validation engine runs, by resulting state"))
	if err != nil {
		return nil, err
	}
	evalSeconds, err := m.Float64Histogram("validation.duration.seconds",
		metric.WithDescription("Validation engine run duration"))
	if err != nil {
		return nil, err
	}
	storeErrors, err := m.Int64Counter("store.errors",
		metric.WithDescription("Persistence failures, by operation"))
	if err != nil {
		return nil, err
	}
	return &Recorder{
		published:   published,
		validations: validations,
		evalSeconds: evalSeconds,
		storeErrors: storeErrors,
	}, nil
}

// RecordPublish counts a successful publish.
func (r *Recorder) RecordPublish(ctx context.Context, entityKind string) {
	if r == nil {
		return
	}
	r.published.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", entityKind)))
}

// RecordValidation counts a validation run and its duration.
func (r *Recorder) RecordValidation(ctx context.Context, state string, d time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", state))
	r.validations.Add(ctx, 1, attrs)
	r.evalSeconds.Record(ctx, d.Seconds(), attrs)
}

// RecordStoreError counts a persistence failure.
func (r *Recorder) RecordStoreError(ctx context.Context, op string) {
	if r == nil {
		return
	}
	r.storeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
