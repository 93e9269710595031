package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/polisai/polis-signals/pkg/domain"
)

type label string

func (l label) String() string { return "label:" + string(l) }

func TestToAttributesConvertsScalars(t *testing.T) {
	attrs := ToAttributes(map[string]any{
		"b": true,
		"a": "x",
		"c": 3,
		"d": 1.5,
		"e": label("z"),
		"f": time.Second,
	})

	if len(attrs) != 6 {
		t.Fatalf("expected 6 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "a" || attrs[5].Key != "f" {
		t.Fatalf("attributes must be sorted by key, got %v", attrs)
	}
	set := attribute.NewSet(attrs...)
	if v, _ := set.Value("c"); v.AsInt64() != 3 {
		t.Fatalf("expected int attribute 3, got %v", v)
	}
	if v, _ := set.Value("e"); v.AsString() != "label:z" {
		t.Fatalf("expected stringer attribute, got %v", v)
	}
	if ToAttributes(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestAnnotateSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	AnnotateSpan(span, domain.TelemetryEvent{
		Type:       domain.EventSpan,
		Attributes: map[string]any{"api.name": "checkout"},
		Business:   domain.BusinessContext{Domain: "ecommerce", Impact: domain.ImpactRevenue, UserJourney: "purchase_flow"},
		Severity:   domain.SeverityWarn,
	})
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("expected 1 span, got %d", len(ended))
	}
	set := attribute.NewSet(ended[0].Attributes()...)
	if v, ok := set.Value("business.impact"); !ok || v.AsString() != "revenue" {
		t.Fatalf("expected business.impact revenue, got %v", v)
	}
	if v, ok := set.Value("business.user_journey"); !ok || v.AsString() != "purchase_flow" {
		t.Fatalf("expected journey attribute, got %v", v)
	}
	if v, ok := set.Value("api.name"); !ok || v.AsString() != "checkout" {
		t.Fatalf("expected api.name attribute, got %v", v)
	}
}
