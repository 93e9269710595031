package exporter

import (
	"context"
	"net/http"
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-signals/pkg/domain"
)

var metricNamespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Prometheus aggregates events into metrics on a private registry served by
// Handler.
type Prometheus struct {
	mu       sync.RWMutex
	name     string
	registry *prometheus.Registry

	events         *prometheus.CounterVec
	durations      *prometheus.HistogramVec
	slaViolations  *prometheus.CounterVec
	businessValues *prometheus.GaugeVec
	errors         *prometheus.CounterVec
}

// NewPrometheus returns an unconfigured Prometheus exporter.
func NewPrometheus() *Prometheus {
	return &Prometheus{name: TypePrometheus}
}

func (p *Prometheus) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// Configure registers the collectors under the "namespace" option (default
// "signals").
func (p *Prometheus) Configure(cfg domain.PlatformConfig) error {
	namespace := cfg.Option("namespace", "signals")
	if !metricNamespacePattern.MatchString(namespace) {
		return &domain.ConfigError{Field: "platforms." + cfg.DisplayName() + ".options.namespace", Message: "invalid metric namespace " + namespace}
	}

	registry := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Admitted telemetry events by domain, type and business impact",
		},
		[]string{"domain", "event_type", "impact", "severity"},
	)
	durations := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of instrumented operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"domain", "event_type"},
	)
	slaViolations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sla_violations_total",
			Help:      "API calls that exceeded the domain SLA target",
		},
		[]string{"domain", "severity"},
	)
	businessValues := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "business_metric",
			Help:      "Last recorded value of a business metric",
		},
		[]string{"domain", "metric", "impact"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Error events by domain and error type",
		},
		[]string{"domain", "error_type"},
	)
	registry.MustRegister(events, durations, slaViolations, businessValues, errorsTotal)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = cfg.DisplayName()
	p.registry = registry
	p.events = events
	p.durations = durations
	p.slaViolations = slaViolations
	p.businessValues = businessValues
	p.errors = errorsTotal
	return nil
}

func (p *Prometheus) Export(_ context.Context, events []domain.TelemetryEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.registry == nil {
		return errNotConfigured(p.name)
	}

	for _, event := range events {
		p.events.WithLabelValues(event.Domain, string(event.Type), string(event.Business.Impact), string(event.Severity)).Inc()

		if d, ok := durationOf(event); ok {
			p.durations.WithLabelValues(event.Domain, string(event.Type)).Observe(d.Seconds())
		}
		if violated, _ := event.Attributes["sla.violated"].(bool); violated {
			p.slaViolations.WithLabelValues(event.Domain, event.StringAttr("sla.violation_severity")).Inc()
		}
		if event.Type == domain.EventMetric {
			if v, ok := numberAttr(event, domain.AttrMetricValue); ok {
				p.businessValues.WithLabelValues(event.Domain, event.StringAttr("metric.name"), string(event.Business.Impact)).Set(v)
			}
		}
		if event.Type == domain.EventError {
			p.errors.WithLabelValues(event.Domain, event.StringAttr(domain.AttrErrorType)).Inc()
		}
	}
	return nil
}

// Registry returns the private registry, or nil before Configure.
func (p *Prometheus) Registry() *prometheus.Registry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		registry := p.Registry()
		if registry == nil {
			http.Error(w, "exporter not configured", http.StatusServiceUnavailable)
			return
		}
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
