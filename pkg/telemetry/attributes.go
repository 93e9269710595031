package telemetry

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-signals/pkg/domain"
)

// ToAttributes converts an event attribute map into OpenTelemetry attributes,
// sorted by key. Unsupported value types are formatted as strings.
func ToAttributes(attrs map[string]any) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, toAttribute(k, attrs[k]))
	}
	return out
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case int32:
		return attribute.Int64(key, int64(v))
	case float64:
		return attribute.Float64(key, v)
	case float32:
		return attribute.Float64(key, float64(v))
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

// BusinessAttributes returns the business context of an event as attributes.
func BusinessAttributes(event domain.TelemetryEvent) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("business.domain", event.Business.Domain),
		attribute.String("business.impact", string(event.Business.Impact)),
		attribute.String("event.type", string(event.Type)),
	}
	if event.Business.Feature != "" {
		attrs = append(attrs, attribute.String("business.feature", event.Business.Feature))
	}
	if event.Business.UserJourney != "" {
		attrs = append(attrs, attribute.String("business.user_journey", event.Business.UserJourney))
	}
	if event.Severity != "" {
		attrs = append(attrs, attribute.String("event.severity", string(event.Severity)))
	}
	return attrs
}

// AnnotateSpan attaches the event's business context and attributes to span.
func AnnotateSpan(span trace.Span, event domain.TelemetryEvent) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.SetAttributes(BusinessAttributes(event)...)
	span.SetAttributes(ToAttributes(event.Attributes)...)
}
