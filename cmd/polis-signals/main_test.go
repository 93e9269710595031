package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-signals/pkg/coordinator"
	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/instrument"
	"github.com/polisai/polis-signals/pkg/probe"
)

const testConfig = `
domains:
  - name: authentication
    priority: critical
    sla_target_ms: 500
    error_threshold: 0.01
    features: [login]
  - name: checkout
    sla_target_ms: 800
    error_threshold: 0.01
    journeys:
      express: [cart, pay]
filtering:
  sampling_rate: 1
platforms:
  - type: memory
logging:
  level: error
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", "--config", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "authentication")
	assert.Contains(t, out, "checkout")
	assert.Contains(t, out, "type=memory")
}

func TestValidateCommandRejectsInvalidConfig(t *testing.T) {
	_, err := execute(t, "validate", "--config", writeConfig(t, "filtering:\n  sampling_rate: 3\n"))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestValidateCommandNeedsDomains(t *testing.T) {
	_, err := execute(t, "validate", "--config", writeConfig(t, "debug: true\n"))
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestPresetsCommand(t *testing.T) {
	out, err := execute(t, "presets")
	require.NoError(t, err)
	for _, name := range coordinator.PresetNames() {
		assert.Contains(t, out, name)
	}
}

func TestSimulateCommand(t *testing.T) {
	out, err := execute(t, "simulate",
		"--config", writeConfig(t, testConfig),
		"--iterations", "2",
		"--failure-rate", "0",
		"--max-latency", "1ms",
	)
	require.NoError(t, err)

	var stats coordinator.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.True(t, stats.Initialized)
	assert.Equal(t, []string{"authentication", "checkout"}, stats.Domains)
	// one API call, one journey step and one business metric per domain per round
	assert.EqualValues(t, 12, stats.EventsProcessed)
	assert.Zero(t, stats.EventsDropped)
	assert.Equal(t, []string{"memory"}, stats.Exporters)
}

func TestSimulateCommandSkipsBots(t *testing.T) {
	out, err := execute(t, "simulate",
		"--config", writeConfig(t, testConfig),
		"--iterations", "2",
		"--user-agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	)
	require.NoError(t, err)

	var stats coordinator.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, coordinator.StateSkipped, stats.State)
	assert.Zero(t, stats.EventsProcessed)
}

func TestParseSimulateOptionsValidates(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "negative iterations", args: []string{"--iterations", "-1"}},
		{name: "failure rate above one", args: []string{"--failure-rate", "1.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newSimulateCmd()
			require.NoError(t, cmd.ParseFlags(tt.args))
			_, err := parseSimulateOptions(cmd)
			assert.Error(t, err)
		})
	}

	cmd := newSimulateCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--interval", "250ms", "--watch"}))
	opts, err := parseSimulateOptions(cmd)
	require.NoError(t, err)
	assert.Equal(t, 10, opts.Iterations)
	assert.Equal(t, 250*time.Millisecond, opts.Interval)
	assert.True(t, opts.Watch)
}

func TestSimulatedJourney(t *testing.T) {
	name, steps := simulatedJourney(domain.DomainConfig{Name: "checkout", Journeys: map[string][]string{"b": {"x"}, "a": {"y", "z"}}})
	assert.Equal(t, "a", name)
	assert.Equal(t, []string{"y", "z"}, steps)

	name, steps = simulatedJourney(domain.DomainConfig{Name: coordinator.DomainAuthentication})
	assert.Equal(t, "login_flow", name)
	assert.Equal(t, instrument.DefaultJourneys["login_flow"], steps)

	name, _ = simulatedJourney(domain.DomainConfig{Name: "search"})
	assert.Equal(t, "onboarding", name)
}

func TestSimulatedHost(t *testing.T) {
	assert.Equal(t, "given.example.com", simulatedHost("given.example.com", []string{"shop.example.com"}))
	assert.Equal(t, "shop.example.com", simulatedHost("", []string{"*.cdn.example.com", "shop.example.com"}))
	assert.Equal(t, "localhost", simulatedHost("", nil))
}

func TestMetricsHandler(t *testing.T) {
	cfg := coordinator.Config{
		Domains: []domain.DomainConfig{{
			Name:           coordinator.DomainEcommerce,
			Priority:       domain.PriorityHigh,
			SLATarget:      time.Second,
			ErrorThreshold: 0.01,
		}},
		Filtering: coordinator.DefaultFilterConfig(),
		Platforms: []domain.PlatformConfig{{Type: "prometheus", Name: "scrape"}},
	}
	c, err := coordinator.New(cfg,
		coordinator.WithProbe(probe.Desktop("shop.example.com")),
		coordinator.WithExecutor(instrument.ExecutorFunc(func(context.Context, instrument.Call) (instrument.Response, error) {
			return instrument.Response{StatusCode: http.StatusOK}, nil
		})),
	)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })

	shop, err := c.Ecommerce()
	require.NoError(t, err)
	shop.InstrumentAPICall(context.Background(), "checkout", "/api/checkout", http.MethodPost)

	handler := newMetricsHandler(c, cfg.Platforms)

	assert.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Code == http.StatusOK && bytes.Contains(rec.Body.Bytes(), []byte("signals_events_total"))
	}, time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats coordinator.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, []string{"scrape"}, stats.Exporters)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())
}
