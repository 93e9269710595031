package instrument

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Call identifies the API operation an Executor performs.
type Call struct {
	Name     string
	Endpoint string
	Method   string
}

// Response is what an Executor reports for a completed call.
type Response struct {
	StatusCode int
}

// Executor performs the operation wrapped by InstrumentAPICall.
type Executor interface {
	Execute(ctx context.Context, call Call) (Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, call Call) (Response, error)

// Execute calls f(ctx, call).
func (f ExecutorFunc) Execute(ctx context.Context, call Call) (Response, error) {
	return f(ctx, call)
}

// ErrSimulatedFailure is returned by SimulatedExecutor on a drawn failure.
var ErrSimulatedFailure = errors.New("simulated api failure")

// SimulatedExecutor stands in for a network call: it waits for a random latency
// and fails with probability FailureRate.
type SimulatedExecutor struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	FailureRate float64
	Random      func() float64
}

// NewSimulatedExecutor returns a simulator with a 20-200ms latency range.
func NewSimulatedExecutor(failureRate float64) *SimulatedExecutor {
	return &SimulatedExecutor{
		MinLatency:  20 * time.Millisecond,
		MaxLatency:  200 * time.Millisecond,
		FailureRate: failureRate,
	}
}

// Execute sleeps for the drawn latency, honoring ctx cancellation.
func (s *SimulatedExecutor) Execute(ctx context.Context, call Call) (Response, error) {
	random := s.Random
	if random == nil {
		random = rand.Float64
	}

	latency := s.MinLatency
	if spread := s.MaxLatency - s.MinLatency; spread > 0 {
		latency += time.Duration(random() * float64(spread))
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-timer.C:
	}

	if random() < s.FailureRate {
		return Response{StatusCode: http.StatusServiceUnavailable}, fmt.Errorf("%s %s: %w", call.Method, call.Endpoint, ErrSimulatedFailure)
	}
	return Response{StatusCode: http.StatusOK}, nil
}

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// HTTPExecutor performs the call over HTTP. Relative endpoints are resolved
// against BaseURL. Requests go through an otelhttp transport so the outgoing
// call joins the instrumentation span.
type HTTPExecutor struct {
	client  *http.Client
	baseURL *url.URL
	header  http.Header
}

// NewHTTPExecutor builds an executor. client may be nil.
func NewHTTPExecutor(baseURL string, client *http.Client, header http.Header) (*HTTPExecutor, error) {
	var base *url.URL
	if strings.TrimSpace(baseURL) != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		base = parsed
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	instrumented := *client
	transport := instrumented.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	instrumented.Transport = otelhttp.NewTransport(transport)

	return &HTTPExecutor{client: &instrumented, baseURL: base, header: header.Clone()}, nil
}

// Execute issues the request and discards the body.
func (h *HTTPExecutor) Execute(ctx context.Context, call Call) (Response, error) {
	target, err := h.resolve(call.Endpoint)
	if err != nil {
		return Response{}, err
	}

	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range h.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Response{StatusCode: resp.StatusCode}, &HTTPStatusError{Method: method, URL: target, StatusCode: resp.StatusCode}
	}
	return Response{StatusCode: resp.StatusCode}, nil
}

func (h *HTTPExecutor) resolve(endpoint string) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if ref.IsAbs() || h.baseURL == nil {
		return ref.String(), nil
	}
	return h.baseURL.ResolveReference(ref).String(), nil
}
