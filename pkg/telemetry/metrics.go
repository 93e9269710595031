package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/polisai/polis-signals/pkg/domain"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	decisionCounter      metric.Int64Counter
	exportBatchCounter   metric.Int64Counter
	exportEventCounter   metric.Int64Counter
	exportFailureCounter metric.Int64Counter
	exportLatency        metric.Float64Histogram
)

// FilterDecision captures the fields needed to record an admission decision.
type FilterDecision struct {
	Domain    string
	EventType domain.EventType
	Rule      string
	Admitted  bool
}

// RecordFilterDecision counts admission decisions partitioned by the rule that decided.
func RecordFilterDecision(ctx context.Context, d FilterDecision) {
	if err := ensureMetrics(); err != nil {
		return
	}

	decisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("signals.domain", d.Domain),
		attribute.String("signals.event_type", string(d.EventType)),
		attribute.String("signals.rule", d.Rule),
		attribute.Bool("signals.admitted", d.Admitted),
	))
}

// ExportOutcome describes one exporter call.
type ExportOutcome struct {
	Exporter string
	Events   int
	Duration time.Duration
	Err      error
}

// RecordExport emits counters and a latency histogram for exporter calls.
func RecordExport(ctx context.Context, o ExportOutcome) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("signals.exporter", o.Exporter))
	exportBatchCounter.Add(ctx, 1, attrs)
	exportEventCounter.Add(ctx, int64(o.Events), attrs)
	if o.Duration > 0 {
		exportLatency.Record(ctx, float64(o.Duration)/float64(time.Millisecond), attrs)
	}
	if o.Err != nil {
		exportFailureCounter.Add(ctx, 1, attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("signals.pipeline")

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"signals.filter.decisions_total",
			metric.WithDescription("Admission decisions partitioned by deciding rule"),
			metric.WithUnit("{decision}"),
		)
		if metricsInitErr != nil {
			return
		}

		exportBatchCounter, metricsInitErr = meter.Int64Counter(
			"signals.export.batches_total",
			metric.WithDescription("Export calls issued to exporters"),
			metric.WithUnit("{batch}"),
		)
		if metricsInitErr != nil {
			return
		}

		exportEventCounter, metricsInitErr = meter.Int64Counter(
			"signals.export.events_total",
			metric.WithDescription("Events handed to exporters"),
			metric.WithUnit("{event}"),
		)
		if metricsInitErr != nil {
			return
		}

		exportFailureCounter, metricsInitErr = meter.Int64Counter(
			"signals.export.failures_total",
			metric.WithDescription("Export calls that returned an error or panicked"),
			metric.WithUnit("{batch}"),
		)
		if metricsInitErr != nil {
			return
		}

		exportLatency, metricsInitErr = meter.Float64Histogram(
			"signals.export.duration_ms",
			metric.WithDescription("Observed exporter call latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
