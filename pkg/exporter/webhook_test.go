package exporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-signals/internal/governance"
	"github.com/polisai/polis-signals/pkg/domain"
)

type webhookSink struct {
	mu       sync.Mutex
	payloads []webhookPayload
	headers  []http.Header
	status   atomic.Int32
	calls    atomic.Int32
}

func (s *webhookSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	if code := int(s.status.Load()); code != 0 {
		http.Error(w, "unavailable", code)
		return
	}
	var p webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func newWebhookFixture(t *testing.T, options map[string]string) (*Webhook, *webhookSink) {
	t.Helper()
	sink := &webhookSink{}
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)

	w := NewWebhook(nil, WithHTTPClient(srv.Client()))
	require.NoError(t, w.Configure(domain.PlatformConfig{
		Type:      TypeWebhook,
		Name:      "ingest",
		Endpoint:  srv.URL + "/events",
		APIKey:    "secret",
		Headers:   map[string]string{"X-Tenant": "acme"},
		BatchSize: 2,
		Options:   options,
	}))
	t.Cleanup(func() { _ = w.Destroy(context.Background()) })
	return w, sink
}

func TestWebhookDeliversBatches(t *testing.T) {
	ctx := context.Background()
	w, sink := newWebhookFixture(t, map[string]string{"service": "shop-web", OptionRedact: "user.id:mask"})

	require.NoError(t, w.Export(ctx, []domain.TelemetryEvent{sampleEvent("e1")}))
	assert.EqualValues(t, 0, sink.calls.Load())

	require.NoError(t, w.Export(ctx, []domain.TelemetryEvent{sampleEvent("e2")}))
	require.EqualValues(t, 1, sink.calls.Load())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	p := sink.payloads[0]
	assert.Equal(t, "shop-web", p.Service)
	require.Len(t, p.Events, 2)
	assert.Equal(t, "e1", p.Events[0].ID)
	assert.Equal(t, "***", p.Events[0].Attributes["user.id"])
	assert.Equal(t, "Bearer secret", sink.headers[0].Get("Authorization"))
	assert.Equal(t, "acme", sink.headers[0].Get("X-Tenant"))
	assert.Equal(t, "application/json", sink.headers[0].Get("Content-Type"))
}

func TestWebhookDestroyFlushesPending(t *testing.T) {
	ctx := context.Background()
	w, sink := newWebhookFixture(t, nil)

	require.NoError(t, w.Export(ctx, []domain.TelemetryEvent{sampleEvent("e1")}))
	require.NoError(t, w.Destroy(ctx))
	assert.EqualValues(t, 1, sink.calls.Load())
	assert.ErrorIs(t, w.Export(ctx, []domain.TelemetryEvent{sampleEvent("e2")}), domain.ErrExporterDisabled)
}

func TestWebhookRetriesServerErrorsThenOpensBreaker(t *testing.T) {
	ctx := context.Background()
	w, sink := newWebhookFixture(t, map[string]string{"max_retries": "1", "max_failures": "2", "cooldown": "1m"})
	sink.status.Store(http.StatusServiceUnavailable)

	batch := []domain.TelemetryEvent{sampleEvent("e1"), sampleEvent("e2")}
	err := w.Export(ctx, batch)
	require.ErrorIs(t, err, governance.ErrMaxRetriesExceeded)
	var delivery *DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, http.StatusServiceUnavailable, delivery.StatusCode)
	assert.EqualValues(t, 2, sink.calls.Load())

	require.Error(t, w.Export(ctx, batch))
	assert.Equal(t, governance.StateOpen, w.Breaker().State())

	err = w.Export(ctx, batch)
	require.ErrorIs(t, err, governance.ErrCircuitOpen)
	assert.EqualValues(t, 4, sink.calls.Load())
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	w, sink := newWebhookFixture(t, nil)
	sink.status.Store(http.StatusBadRequest)

	err := w.Export(context.Background(), []domain.TelemetryEvent{sampleEvent("e1"), sampleEvent("e2")})
	var delivery *DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.False(t, delivery.Temporary())
	assert.EqualValues(t, 1, sink.calls.Load())
}

func TestWebhookRejectsBadEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://example.com", "not a url"} {
		err := NewWebhook(nil).Configure(domain.PlatformConfig{Type: TypeWebhook, Endpoint: endpoint})
		var cfgErr *domain.ConfigError
		assert.ErrorAs(t, err, &cfgErr, endpoint)
	}
}
