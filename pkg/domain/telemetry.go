package domain

import (
	"context"
	"time"
)

// EventType is the kind of a telemetry record.
type EventType string

const (
	EventSpan   EventType = "span"
	EventMetric EventType = "metric"
	EventLog    EventType = "log"
	EventError  EventType = "error"
)

// Severity is the optional severity of an event. The zero value means unset.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Overrides reports whether the severity bypasses every admission rule.
func (s Severity) Overrides() bool {
	return s == SeverityError || s == SeverityCritical
}

// BusinessImpact is the coarse reason an event matters to the business.
type BusinessImpact string

const (
	ImpactRevenue     BusinessImpact = "revenue"
	ImpactEngagement  BusinessImpact = "engagement"
	ImpactPerformance BusinessImpact = "performance"
	ImpactReliability BusinessImpact = "reliability"
)

// UnknownDomain is used for events that cannot be attributed to a configured domain.
const UnknownDomain = "unknown"

// Well-known attribute keys.
const (
	AttrHTTPURL      = "http.url"
	AttrURL          = "url"
	AttrErrorStack   = "error.stack"
	AttrStack        = "stack"
	AttrErrorSource  = "error.source"
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
	AttrMetricValue  = "metric.value"
	AttrDurationMS   = "duration_ms"
)

// BusinessContext is embedded in every event.
type BusinessContext struct {
	Domain        string             `json:"domain"`
	Feature       string             `json:"feature,omitempty"`
	UserJourney   string             `json:"userJourney,omitempty"`
	Impact        BusinessImpact     `json:"businessImpact"`
	CustomMetrics map[string]float64 `json:"customMetrics,omitempty"`
}

// TelemetryEvent is the unit of observability output.
type TelemetryEvent struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Domain     string          `json:"domain"`
	Type       EventType       `json:"eventType"`
	Name       string          `json:"name"`
	Attributes map[string]any  `json:"attributes"`
	Business   BusinessContext `json:"businessContext"`
	Severity   Severity        `json:"severity,omitempty"`
}

// URL returns the URL-bearing attribute, checking http.url before url.
func (e TelemetryEvent) URL() string {
	if v := e.StringAttr(AttrHTTPURL); v != "" {
		return v
	}
	return e.StringAttr(AttrURL)
}

// Stack returns the stack-trace attribute if present.
func (e TelemetryEvent) Stack() string {
	if v := e.StringAttr(AttrErrorStack); v != "" {
		return v
	}
	return e.StringAttr(AttrStack)
}

// StringAttr returns a string attribute or "" when missing or not a string.
func (e TelemetryEvent) StringAttr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	s, _ := e.Attributes[key].(string)
	return s
}

// InstrumentationResult is returned by every instrumentation call.
type InstrumentationResult struct {
	Success       bool
	Duration      time.Duration
	Err           error
	CustomMetrics map[string]float64
}

// EventSink receives completed events from an instrumentor.
type EventSink interface {
	OnEvent(event TelemetryEvent)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(event TelemetryEvent)

// OnEvent calls f(event).
func (f SinkFunc) OnEvent(event TelemetryEvent) {
	f(event)
}

// Exporter delivers admitted events to a backend. Implementations batch
// internally and must be safe for concurrent use.
type Exporter interface {
	Name() string
	Configure(cfg PlatformConfig) error
	Export(ctx context.Context, events []TelemetryEvent) error
}

// Destroyer is implemented by exporters that hold resources.
type Destroyer interface {
	Destroy(ctx context.Context) error
}
