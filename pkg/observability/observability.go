// Package observability wires OpenTelemetry tracing and metrics for the
// service: OTLP export, request tracking, and counters for the ledger and
// anchoring hot paths.
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
	OTLPEndpoint   string
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "weft",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       true,
	}
}

// Provider manages the trace and metric providers plus the service's
// domain counters. A disabled provider is a safe no-op.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	requestCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	durationHist   metric.Float64Histogram

	hopsAppended     metric.Int64Counter
	threadsClosed    metric.Int64Counter
	anchorsSubmitted metric.Int64Counter
	anchorsConfirmed metric.Int64Counter
	driftVerdicts    metric.Int64Counter
}

// New creates an observability provider and installs it globally.
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
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer("weft", trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("weft", metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
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
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.requestCounter, err = p.meter.Int64Counter("weft.requests.total",
		metric.WithDescription("Total API requests processed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}
	p.errorCounter, err = p.meter.Int64Counter("weft.errors.total",
		metric.WithDescription("Total errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}
	p.durationHist, err = p.meter.Float64Histogram("weft.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return err
	}

	p.hopsAppended, err = p.meter.Int64Counter("weft.hops.appended",
		metric.WithDescription("Hops appended across all threads"),
		metric.WithUnit("{hop}"),
	)
	if err != nil {
		return err
	}
	p.threadsClosed, err = p.meter.Int64Counter("weft.threads.closed",
		metric.WithDescription("Threads closed by terminal outcome"),
		metric.WithUnit("{thread}"),
	)
	if err != nil {
		return err
	}
	p.anchorsSubmitted, err = p.meter.Int64Counter("weft.anchors.submitted",
		metric.WithDescription("Anchor transactions submitted"),
		metric.WithUnit("{anchor}"),
	)
	if err != nil {
		return err
	}
	p.anchorsConfirmed, err = p.meter.Int64Counter("weft.anchors.confirmed",
		metric.WithDescription("Anchors past finality"),
		metric.WithUnit("{anchor}"),
	)
	if err != nil {
		return err
	}
	p.driftVerdicts, err = p.meter.Int64Counter("weft.drift.verdicts",
		metric.WithDescription("Intent drift comparisons by verdict"),
		metric.WithUnit("{comparison}"),
	)
	return err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer("weft")
	}
	return p.tracer
}

// StartSpan starts a span under the service tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordHopAppended counts one appended hop.
func (p *Provider) RecordHopAppended(ctx context.Context, agentType string) {
	if p.hopsAppended != nil {
		p.hopsAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("agent.type", agentType)))
	}
}

// RecordThreadClosed counts one closed thread by outcome.
func (p *Provider) RecordThreadClosed(ctx context.Context, outcome string) {
	if p.threadsClosed != nil {
		p.threadsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordAnchorSubmitted counts one submitted anchor batch member.
func (p *Provider) RecordAnchorSubmitted(ctx context.Context, network string) {
	if p.anchorsSubmitted != nil {
		p.anchorsSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
	}
}

// RecordAnchorConfirmed counts one confirmed anchor.
func (p *Provider) RecordAnchorConfirmed(ctx context.Context, network string) {
	if p.anchorsConfirmed != nil {
		p.anchorsConfirmed.Add(ctx, 1, metric.WithAttributes(attribute.String("network", network)))
	}
}

// RecordDriftVerdict counts one drift comparison by verdict.
func (p *Provider) RecordDriftVerdict(ctx context.Context, verdict string) {
	if p.driftVerdicts != nil {
		p.driftVerdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
	}
}

// TrackRequest tracks one API request from start to finish. The returned
// function records duration and error state when the request completes.
func (p *Provider) TrackRequest(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	if p.requestCounter != nil {
		p.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return ctx, func(err error) {
		if p.durationHist != nil {
			p.durationHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
		}
		if err != nil {
			span.RecordError(err)
			if p.errorCounter != nil {
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(
					append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))...))
			}
		}
		span.End()
	}
}
