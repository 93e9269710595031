package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-signals/internal/governance"
	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// DeliveryError reports a non-2xx answer from a webhook endpoint.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhook responded %d", e.StatusCode)
	}
	return fmt.Sprintf("webhook responded %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request is worth retrying.
func (e *DeliveryError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type webhookPayload struct {
	Service string                  `json:"service"`
	SentAt  time.Time               `json:"sentAt"`
	Events  []domain.TelemetryEvent `json:"events"`
}

// Webhook POSTs batches of events as JSON. Deliveries go through a circuit
// breaker wrapping a bounded retry.
type Webhook struct {
	logger *slog.Logger
	client *http.Client

	mu         sync.RWMutex
	name       string
	endpoint   string
	service    string
	headers    map[string]string
	redactions []telemetry.Redaction
	batch      *batcher
	breaker    *governance.Breaker
	retry      governance.RetryConfig
}

// WebhookOption customises a Webhook exporter.
type WebhookOption func(*Webhook)

// WithHTTPClient sets the client used for deliveries. Its transport is wrapped
// with otelhttp.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// NewWebhook returns an unconfigured webhook exporter.
func NewWebhook(logger *slog.Logger, opts ...WebhookOption) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Webhook{logger: logger, name: TypeWebhook}
	for _, opt := range opts {
		opt(w)
	}
	base := http.DefaultTransport
	timeout := 10 * time.Second
	if w.client != nil {
		if w.client.Transport != nil {
			base = w.client.Transport
		}
		if w.client.Timeout > 0 {
			timeout = w.client.Timeout
		}
	}
	w.client = &http.Client{Transport: otelhttp.NewTransport(base), Timeout: timeout}
	return w
}

func (w *Webhook) Name() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.name
}

// Configure reads the endpoint, headers, API key and batching settings plus the
// "service", "api_key_header", "max_retries", "max_failures" and "cooldown"
// options.
func (w *Webhook) Configure(cfg domain.PlatformConfig) error {
	redactions, err := platformRedactions(cfg)
	if err != nil {
		return err
	}

	field := "platforms." + cfg.DisplayName()
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &domain.ConfigError{Field: field + ".endpoint", Message: fmt.Sprintf("webhook endpoint must be an http(s) URL, got %q", cfg.Endpoint)}
	}

	retry := governance.DefaultRetryConfig()
	if retry.MaxRetries, err = optionInt(cfg, "max_retries", retry.MaxRetries); err != nil {
		return err
	}
	retry.Retryable = retryableDelivery

	breakerCfg := governance.DefaultBreakerConfig()
	if breakerCfg.MaxFailures, err = optionInt(cfg, "max_failures", breakerCfg.MaxFailures); err != nil {
		return err
	}
	if breakerCfg.Cooldown, err = optionDuration(cfg, "cooldown", breakerCfg.Cooldown); err != nil {
		return err
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.APIKey != "" {
		header := cfg.Option("api_key_header", "Authorization")
		if header == "Authorization" {
			headers[header] = "Bearer " + cfg.APIKey
		} else {
			headers[header] = cfg.APIKey
		}
	}

	w.mu.Lock()
	previous := w.batch
	w.name = cfg.DisplayName()
	w.endpoint = u.String()
	w.service = cfg.Option("service", "polis-signals")
	w.headers = headers
	w.redactions = redactions
	w.breaker = governance.NewBreaker(breakerCfg)
	w.retry = retry
	w.batch = newBatcher(w.name, cfg.BatchSize, cfg.FlushInterval, w.deliver, w.logger)
	w.mu.Unlock()

	if previous != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := previous.Close(ctx); err != nil {
			w.logger.Warn("flush before reconfigure failed", slog.String("exporter", w.name), slog.Any("error", err))
		}
	}
	return nil
}

func (w *Webhook) Export(ctx context.Context, events []domain.TelemetryEvent) error {
	w.mu.RLock()
	batch, name := w.batch, w.name
	w.mu.RUnlock()
	if batch == nil {
		return errNotConfigured(name)
	}
	return batch.Add(ctx, events)
}

// Flush delivers pending events immediately.
func (w *Webhook) Flush(ctx context.Context) error {
	w.mu.RLock()
	batch := w.batch
	w.mu.RUnlock()
	if batch == nil {
		return nil
	}
	return batch.Flush(ctx)
}

// Breaker exposes the delivery circuit breaker.
func (w *Webhook) Breaker() *governance.Breaker {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.breaker
}

// Destroy flushes pending events and stops the interval loop.
func (w *Webhook) Destroy(ctx context.Context) error {
	w.mu.Lock()
	batch := w.batch
	w.batch = nil
	w.mu.Unlock()
	if batch == nil {
		return nil
	}
	return batch.Close(ctx)
}

func (w *Webhook) deliver(ctx context.Context, events []domain.TelemetryEvent) error {
	w.mu.RLock()
	endpoint, service, headers, redactions := w.endpoint, w.service, w.headers, w.redactions
	breaker, retry := w.breaker, w.retry
	w.mu.RUnlock()

	body, err := json.Marshal(webhookPayload{
		Service: service,
		SentAt:  time.Now().UTC(),
		Events:  redactEvents(events, redactions),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	return breaker.Do(ctx, func(ctx context.Context) error {
		return governance.Retry(ctx, retry, func(ctx context.Context) error {
			return w.post(ctx, endpoint, headers, body)
		})
	})
}

func (w *Webhook) post(ctx context.Context, endpoint string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &DeliveryError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}

func retryableDelivery(err error) bool {
	if errors.Is(err, governance.ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var delivery *DeliveryError
	if errors.As(err, &delivery) {
		return delivery.Temporary()
	}
	return true
}
