// Package telemetry manages OpenTelemetry tracing for the worker
// pipeline, adapted from the teacher's session/request span helpers
// (internal/telemetry/otel.go): the provider/exporter bootstrap is
// unchanged in shape, but the span vocabulary is the pipeline's own —
// one span per WorkerPipeline stage per event instead of per proxied
// HTTP request.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Provider manages OpenTelemetry tracing for the pipeline.
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider creates a new telemetry provider.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg, tracer: otel.Tracer("sentrywire")}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sentrywire"
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
	default:
		return &Provider{config: cfg, tracer: otel.Tracer("sentrywire")}, nil
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	return &Provider{config: cfg, tracer: tp.Tracer("sentrywire"), provider: tp}, nil
}

func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown gracefully shuts down the trace provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Enabled returns whether telemetry is active.
func (p *Provider) Enabled() bool {
	return p.config.Enabled && p.provider != nil
}

// Pipeline span attributes.
const (
	AttrEventSource   = "sentrywire.event.source"
	AttrEventIP       = "sentrywire.event.ip"
	AttrStageName     = "sentrywire.stage.name"
	AttrSeverity      = "sentrywire.severity"
	AttrAlertCount    = "sentrywire.alerts.count"
	AttrIncidentCount = "sentrywire.incidents.count"
)

// StartStageSpan starts a span for a single WorkerPipeline stage
// processing one event.
func (p *Provider) StartStageSpan(ctx context.Context, stage, source, ip string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline."+stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrStageName, stage),
			attribute.String(AttrEventSource, source),
			attribute.String(AttrEventIP, ip),
		),
	)
}

// EndStageSpan ends a stage span, recording the event's resulting
// severity/alert/incident counts and any stage error.
func (p *Provider) EndStageSpan(span trace.Span, severity string, alertCount, incidentCount int, err error) {
	span.SetAttributes(
		attribute.String(AttrSeverity, severity),
		attribute.Int(AttrAlertCount, alertCount),
		attribute.Int(AttrIncidentCount, incidentCount),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// DefaultConfig returns a disabled telemetry configuration.
func DefaultConfig() Config {
	return Config{Enabled: false, Exporter: "none", ServiceName: "sentrywire"}
}

// ConfigFromEnv builds Config from the standard OTEL_* environment
// variables plus sentrywire-specific overrides.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		cfg.Enabled = true
		cfg.Exporter = "otlp"
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		cfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	if os.Getenv("SENTRYWIRE_TELEMETRY_ENABLED") == "true" {
		cfg.Enabled = true
	}
	if v := os.Getenv("SENTRYWIRE_TELEMETRY_EXPORTER"); v != "" {
		cfg.Exporter = v
	}
	if v := os.Getenv("SENTRYWIRE_TELEMETRY_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	return cfg
}

// NoopProvider returns a provider that does nothing, for tests.
func NoopProvider() *Provider {
	return &Provider{config: Config{Enabled: false}, tracer: otel.Tracer("sentrywire-noop")}
}
