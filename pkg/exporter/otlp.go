package exporter

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// OTLP turns each event into a span on a private tracer provider that ships to an
// OTLP collector over gRPC or HTTP. The process-wide provider is left alone.
type OTLP struct {
	logger *slog.Logger

	mu         sync.RWMutex
	name       string
	override   sdktrace.SpanExporter
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	redactions []telemetry.Redaction
}

// OTLPOption customises an OTLP exporter.
type OTLPOption func(*OTLP)

// WithSpanExporter replaces the network exporter, e.g. with an in-memory one.
func WithSpanExporter(e sdktrace.SpanExporter) OTLPOption {
	return func(o *OTLP) { o.override = e }
}

// NewOTLP returns an unconfigured OTLP exporter.
func NewOTLP(logger *slog.Logger, opts ...OTLPOption) *OTLP {
	if logger == nil {
		logger = slog.Default()
	}
	o := &OTLP{logger: logger, name: TypeOTLP}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OTLP) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.name
}

// Configure reads the endpoint, headers and API key plus the "protocol",
// "insecure", "service_name" and "environment" options.
func (o *OTLP) Configure(cfg domain.PlatformConfig) error {
	redactions, err := platformRedactions(cfg)
	if err != nil {
		return err
	}

	insecure, err := optionBool(cfg, "insecure", false)
	if err != nil {
		return err
	}

	tcfg := telemetry.Config{
		ServiceName: cfg.Option("service_name", "polis-signals"),
		Endpoint:    cfg.Endpoint,
		Protocol:    cfg.Option("protocol", telemetry.ProtocolGRPC),
		Environment: cfg.Option("environment", ""),
		Insecure:    insecure,
		Headers:     maps.Clone(cfg.Headers),
	}
	if cfg.APIKey != "" {
		if tcfg.Headers == nil {
			tcfg.Headers = map[string]string{}
		}
		tcfg.Headers[cfg.Option("api_key_header", "x-api-key")] = cfg.APIKey
	}

	ctx := context.Background()
	spanExporter := o.override
	if spanExporter == nil {
		if cfg.Endpoint == "" {
			return &domain.ConfigError{Field: "platforms." + cfg.DisplayName() + ".endpoint", Message: "otlp exporter requires an endpoint"}
		}
		spanExporter, err = telemetry.NewSpanExporter(ctx, tcfg)
		if err != nil {
			return err
		}
	}

	res, err := telemetry.NewResource(ctx, tcfg)
	if err != nil {
		return err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 512
	}
	batchOpts := []sdktrace.BatchSpanProcessorOption{sdktrace.WithMaxExportBatchSize(batchSize)}
	if cfg.FlushInterval > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.FlushInterval))
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	o.mu.Lock()
	previous := o.provider
	o.name = cfg.DisplayName()
	o.provider = provider
	o.tracer = provider.Tracer("github.com/polisai/polis-signals/pkg/exporter")
	o.redactions = redactions
	o.mu.Unlock()

	if previous != nil {
		_ = previous.Shutdown(ctx)
	}
	return nil
}

func (o *OTLP) Export(ctx context.Context, events []domain.TelemetryEvent) error {
	o.mu.RLock()
	tracer, redactions, name := o.tracer, o.redactions, o.name
	o.mu.RUnlock()
	if tracer == nil {
		return errNotConfigured(name)
	}

	for _, event := range redactEvents(events, redactions) {
		start := event.Timestamp
		startOpts := []trace.SpanStartOption{
			trace.WithNewRoot(),
			trace.WithSpanKind(spanKind(event)),
			trace.WithAttributes(telemetry.BusinessAttributes(event)...),
			trace.WithAttributes(telemetry.ToAttributes(event.Attributes)...),
		}
		if !start.IsZero() {
			startOpts = append(startOpts, trace.WithTimestamp(start))
		}

		_, span := tracer.Start(ctx, event.Name, startOpts...)
		if event.Type == domain.EventError {
			span.SetStatus(codes.Error, event.StringAttr(domain.AttrErrorMessage))
		}

		var endOpts []trace.SpanEndOption
		if d, ok := durationOf(event); ok && !start.IsZero() {
			endOpts = append(endOpts, trace.WithTimestamp(start.Add(d)))
		}
		span.End(endOpts...)
	}
	return nil
}

// Flush forces queued spans out to the collector.
func (o *OTLP) Flush(ctx context.Context) error {
	o.mu.RLock()
	provider := o.provider
	o.mu.RUnlock()
	if provider == nil {
		return nil
	}
	return provider.ForceFlush(ctx)
}

// Destroy flushes and shuts the private provider down.
func (o *OTLP) Destroy(ctx context.Context) error {
	o.mu.Lock()
	provider := o.provider
	o.provider = nil
	o.tracer = nil
	o.mu.Unlock()
	if provider == nil {
		return nil
	}
	return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
}

func spanKind(event domain.TelemetryEvent) trace.SpanKind {
	if _, ok := event.Attributes["http.method"]; ok {
		return trace.SpanKindClient
	}
	return trace.SpanKindInternal
}
