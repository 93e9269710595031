package exporter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-signals/pkg/domain"
)

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOTLPExportsEventsAsSpans(t *testing.T) {
	ctx := context.Background()
	spans := tracetest.NewInMemoryExporter()
	exp := NewOTLP(nil, WithSpanExporter(spans))
	require.NoError(t, exp.Configure(domain.PlatformConfig{
		Type:    TypeOTLP,
		Name:    "collector",
		Options: map[string]string{"service_name": "shop-web", OptionRedact: "user.id:hash"},
	}))
	t.Cleanup(func() { _ = exp.Destroy(ctx) })
	assert.Equal(t, "collector", exp.Name())

	failure := sampleEvent("e2")
	failure.Type = domain.EventError
	failure.Name = "ecommerce.error"
	failure.Attributes = map[string]any{domain.AttrErrorMessage: "payment declined"}

	require.NoError(t, exp.Export(ctx, []domain.TelemetryEvent{sampleEvent("e1"), failure}))
	require.NoError(t, exp.Flush(ctx))

	got := spans.GetSpans()
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "ecommerce.api.add_to_cart", first.Name)
	assert.Equal(t, trace.SpanKindClient, first.SpanKind)
	assert.Equal(t, sampleEvent("e1").Timestamp, first.StartTime)
	assert.Equal(t, 120*time.Millisecond, first.EndTime.Sub(first.StartTime))
	userID, ok := attrValue(first.Attributes, "user.id")
	require.True(t, ok)
	assert.NotEqual(t, "u-42", userID.AsString())

	service, ok := first.Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "shop-web", service.AsString())

	second := got[1]
	assert.Equal(t, trace.SpanKindInternal, second.SpanKind)
	assert.Equal(t, codes.Error, second.Status.Code)
	assert.Equal(t, "payment declined", second.Status.Description)
}

func TestOTLPRequiresEndpointWithoutOverride(t *testing.T) {
	err := NewOTLP(nil).Configure(domain.PlatformConfig{Type: TypeOTLP})
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "platforms.otlp.endpoint", cfgErr.Field)
}

func TestOTLPDestroyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	exp := NewOTLP(nil, WithSpanExporter(tracetest.NewInMemoryExporter()))
	require.NoError(t, exp.Configure(domain.PlatformConfig{Type: TypeOTLP}))
	require.NoError(t, exp.Destroy(ctx))
	require.NoError(t, exp.Destroy(ctx))
	assert.ErrorIs(t, exp.Export(ctx, []domain.TelemetryEvent{sampleEvent("e1")}), domain.ErrExporterDisabled)
}
