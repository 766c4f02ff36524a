package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/straja-ai/piiscope/internal/redact"
)

// Config controls telemetry setup.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
	Version  string `yaml:"-"`
}

// Provider owns the tracer and meter for detection runs. A nil or disabled
// Provider is a valid no-op.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	runsCounter     metric.Int64Counter
	entitiesCounter metric.Int64Counter
	recordFailures  metric.Int64Counter
	runDuration     metric.Float64Histogram
	labelDuration   metric.Float64Histogram
	indexCounter    metric.Int64Counter

	shutdown []func(context.Context) error
}

const instrumentationName = "github.com/straja-ai/piiscope"

// NewProvider configures OTLP exporters for traces and metrics. When
// telemetry is disabled it returns a no-op provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		p := &Provider{
			tracer: nooptrace.NewTracerProvider().Tracer(""),
			meter:  noop.NewMeterProvider().Meter(""),
		}
		p.initInstruments()
		return p, nil
	}

	spanExp, metricExp, err := newExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	redact.Logf("telemetry enabled (OTLP %s) endpoint=%s", protocol(cfg), cfg.Endpoint)

	service := cfg.Service
	if service == "" {
		service = "piiscope"
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:  true,
		tracer:   tp.Tracer(instrumentationName),
		meter:    mp.Meter(instrumentationName),
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}
	p.initInstruments()
	return p, nil
}

func protocol(cfg Config) string {
	p := strings.ToLower(strings.TrimSpace(cfg.Protocol))
	if p == "" {
		return "grpc"
	}
	return p
}

func newExporters(ctx context.Context, cfg Config) (sdktrace.SpanExporter, sdkmetric.Exporter, error) {
	switch protocol(cfg) {
	case "grpc":
		spans, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, nil, fmt.Errorf("otlp grpc trace exporter: %w", err)
		}
		metrics, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			_ = spans.Shutdown(ctx)
			return nil, nil, fmt.Errorf("otlp grpc metric exporter: %w", err)
		}
		return spans, metrics, nil
	case "http":
		spans, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		if err != nil {
			return nil, nil, fmt.Errorf("otlp http trace exporter: %w", err)
		}
		metrics, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
		if err != nil {
			_ = spans.Shutdown(ctx)
			return nil, nil, fmt.Errorf("otlp http metric exporter: %w", err)
		}
		return spans, metrics, nil
	default:
		return nil, nil, fmt.Errorf("unsupported telemetry protocol %q", cfg.Protocol)
	}
}

// initInstruments is best-effort: an instrument that fails to register stays
// nil and its recordings are skipped.
func (p *Provider) initInstruments() {
	p.runsCounter, _ = p.meter.Int64Counter("piiscope_runs_total",
		metric.WithDescription("Completed detection runs."))
	p.entitiesCounter, _ = p.meter.Int64Counter("piiscope_entities_total",
		metric.WithDescription("Entities detected, by group."))
	p.recordFailures, _ = p.meter.Int64Counter("piiscope_record_failures_total",
		metric.WithDescription("Records dropped because the labeler failed."))
	p.runDuration, _ = p.meter.Float64Histogram("piiscope_run_duration_ms",
		metric.WithUnit("ms"))
	p.labelDuration, _ = p.meter.Float64Histogram("piiscope_labeler_duration_ms",
		metric.WithUnit("ms"))
	p.indexCounter, _ = p.meter.Int64Counter("piiscope_index_batches_total",
		metric.WithDescription("Index batches delivered, by sink and outcome."))
}

// Tracer returns the run tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return nooptrace.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Meter returns the run meter.
func (p *Provider) Meter() metric.Meter {
	if p == nil {
		return noop.NewMeterProvider().Meter("")
	}
	return p.meter
}

// Shutdown flushes and stops the exporters. Errors are logged, not returned.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			redact.Warnf("telemetry shutdown: %v", err)
		}
	}
	p.shutdown = nil
}

// StartRun opens a span covering one detection run.
func (p *Provider) StartRun(ctx context.Context, mode string, records int) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, "piiscope.run", trace.WithAttributes(
		attribute.String("piiscope.mode", mode),
		attribute.Int("piiscope.records", records),
	))
}

// RunStats is what a finished run reports. It never carries entity values.
type RunStats struct {
	Mode           string
	Labeler        string
	Workspace      string
	DurationMs     float64
	PII            int
	HII            int
	RecordFailures int
}

// RecordRun emits counters/histograms with safe labels.
func (p *Provider) RecordRun(stats RunStats) {
	if p == nil || p.runsCounter == nil {
		return
	}
	labels := SafeAttributes(map[string]any{
		"piiscope.mode":      stats.Mode,
		"piiscope.labeler":   stats.Labeler,
		"piiscope.workspace": stats.Workspace,
	})
	ctx := context.Background()
	p.runsCounter.Add(ctx, 1, metric.WithAttributes(labels...))
	p.runDuration.Record(ctx, stats.DurationMs, metric.WithAttributes(labels...))
	if stats.PII > 0 {
		p.entitiesCounter.Add(ctx, int64(stats.PII), metric.WithAttributes(append(labels, attribute.String("piiscope.group", "PII"))...))
	}
	if stats.HII > 0 {
		p.entitiesCounter.Add(ctx, int64(stats.HII), metric.WithAttributes(append(labels, attribute.String("piiscope.group", "HII"))...))
	}
	if stats.RecordFailures > 0 {
		p.recordFailures.Add(ctx, int64(stats.RecordFailures), metric.WithAttributes(labels...))
	}
}

// RecordLabel records the latency of one labeler call.
func (p *Provider) RecordLabel(labeler string, durMs float64) {
	if p == nil || p.labelDuration == nil {
		return
	}
	p.labelDuration.Record(context.Background(), durMs, metric.WithAttributes(attribute.String("piiscope.labeler", labeler)))
}

// RecordIndex counts one delivered or failed index batch per sink.
func (p *Provider) RecordIndex(sink string, ok bool) {
	if p == nil || p.indexCounter == nil {
		return
	}
	p.indexCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("piiscope.sink", sink),
		attribute.Bool("piiscope.ok", ok),
	))
}
