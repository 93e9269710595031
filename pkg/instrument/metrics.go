package instrument

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce       sync.Once
	metricsInitErr    error
	callCounter       metric.Int64Counter
	callDuration      metric.Float64Histogram
	slaViolations     metric.Int64Counter
	businessMetricSum metric.Float64Counter
)

type callOutcome struct {
	domain   string
	kind     string
	name     string
	success  bool
	duration time.Duration
}

func recordCall(ctx context.Context, o callOutcome) {
	if err := ensureMetrics(); err != nil {
		return
	}

	outcome := "success"
	if !o.success {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("signals.domain", o.domain),
		attribute.String("signals.kind", o.kind),
		attribute.String("signals.operation", o.name),
		attribute.String("signals.outcome", outcome),
	)
	callCounter.Add(ctx, 1, attrs)
	callDuration.Record(ctx, float64(o.duration)/float64(time.Millisecond), attrs)
}

func recordSLAViolation(ctx context.Context, domainName, name, bucket string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	slaViolations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("signals.domain", domainName),
		attribute.String("signals.operation", name),
		attribute.String("signals.sla_severity", bucket),
	))
}

func recordBusinessMetric(ctx context.Context, domainName, name string, value float64) {
	if err := ensureMetrics(); err != nil {
		return
	}
	if value < 0 {
		return
	}
	businessMetricSum.Add(ctx, value, metric.WithAttributes(
		attribute.String("signals.domain", domainName),
		attribute.String("signals.metric", name),
	))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("signals.instrument")

		callCounter, metricsInitErr = meter.Int64Counter(
			"signals.instrument.calls_total",
			metric.WithDescription("Instrumented operations partitioned by outcome"),
			metric.WithUnit("{call}"),
		)
		if metricsInitErr != nil {
			return
		}

		callDuration, metricsInitErr = meter.Float64Histogram(
			"signals.instrument.duration_ms",
			metric.WithDescription("Wall-clock duration of instrumented operations"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		slaViolations, metricsInitErr = meter.Int64Counter(
			"signals.instrument.sla_violations_total",
			metric.WithDescription("API calls that exceeded the domain SLA target"),
			metric.WithUnit("{call}"),
		)
		if metricsInitErr != nil {
			return
		}

		businessMetricSum, metricsInitErr = meter.Float64Counter(
			"signals.instrument.business_metric",
			metric.WithDescription("Sum of non-negative business metric values"),
		)
	})

	return metricsInitErr
}
