package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

const fullConfig = `
user:
  segment: premium
  authenticated: true
  device_type: Mobile
  custom_attributes:
    plan: gold

domains:
  - name: authentication
    priority: critical
    sla_target_ms: 500
    error_threshold: 0.01
    features: [login, register]
  - name: ecommerce
    sla_target_ms: 1000
    error_threshold: 0.005
    journeys:
      purchase_flow: [browse, cart, pay]

filtering:
  enable_bot_detection: true
  domain_whitelist: [shop.example.com]
  sampling_rate: 0.25
  rules:
    - field: event.domain
      operator: equals
      value: internal
      negate: true
    - type: rego
      module: |
        package signals.filter
        default keep := true
        keep := false if input.event.attributes["http.url"] == "/healthz"

platforms:
  - type: webhook
    name: ingest
    endpoint: https://collector.example.com/v1/events
    api_key: secret
    batch_size: 50
    flush_interval: 5s
    options:
      redact: user.id:hash
  - type: memory

telemetry:
  endpoint: localhost:4318
  protocol: HTTP
  environment: staging

logging:
  level: DEBUG
  format: text

debug: true
event_log_capacity: 500
export_timeout: 3s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, "mobile", cfg.User.DeviceType)
	require.Len(t, cfg.Domains, 2)
	assert.Equal(t, "medium", cfg.Domains[1].Priority)
	assert.Equal(t, []string{"browse", "cart", "pay"}, cfg.Domains[1].Journeys["purchase_flow"])
	require.Len(t, cfg.Filtering.Rules, 2)
	assert.Equal(t, RuleAttribute, cfg.Filtering.Rules[0].Type)

	require.Len(t, cfg.Platforms, 2)
	assert.Equal(t, 5*time.Second, cfg.Platforms[0].FlushInterval)
	assert.Equal(t, "user.id:hash", cfg.Platforms[0].Option("redact", ""))

	assert.Equal(t, telemetry.ProtocolHTTP, cfg.Telemetry.Protocol)
	assert.Equal(t, "polis-signals", cfg.Telemetry.ServiceName)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 3*time.Second, cfg.ExportTimeout)
}

func TestCoordinatorConversion(t *testing.T) {
	ctx := context.Background()
	path := writeConfig(t, fullConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	cc, err := cfg.Coordinator(ctx, filepath.Dir(path), nil)
	require.NoError(t, err)

	require.Len(t, cc.Domains, 2)
	assert.Equal(t, 500*time.Millisecond, cc.Domains[0].SLATarget)
	assert.Equal(t, domain.PriorityMedium, cc.Domains[1].Priority)
	assert.Equal(t, "premium", *cc.UserContext.UserSegment)
	assert.True(t, *cc.UserContext.IsAuthenticated)
	assert.Equal(t, domain.DeviceMobile, *cc.UserContext.DeviceType)
	assert.Nil(t, cc.UserContext.SessionID)

	assert.Equal(t, 0.25, cc.Filtering.SamplingRate)
	assert.True(t, cc.Filtering.ExcludeExtensions, "default kept when not set in the file")
	require.Len(t, cc.Filtering.CustomFilters, 2)

	notInternal, rego := cc.Filtering.CustomFilters[0], cc.Filtering.CustomFilters[1]
	uc := domain.UserContext{}
	assert.False(t, notInternal(domain.TelemetryEvent{Domain: "internal"}, uc))
	assert.True(t, notInternal(domain.TelemetryEvent{Domain: "ecommerce"}, uc))
	assert.False(t, rego(domain.TelemetryEvent{Attributes: map[string]any{"http.url": "/healthz"}}, uc))
	assert.True(t, rego(domain.TelemetryEvent{Attributes: map[string]any{"http.url": "/api/cart"}}, uc))

	assert.Equal(t, "staging", cc.Telemetry.Environment)
	assert.True(t, cc.Debug)
	assert.Equal(t, 500, cc.EventLogCapacity)
	assert.Len(t, cc.Platforms, 2)
}

func TestPresetSeedsDomainsAndFiltering(t *testing.T) {
	cfg, err := Load(writeConfig(t, "preset: fintech\nfiltering:\n  sampling_rate: 0.2\n"))
	require.NoError(t, err)

	cc, err := cfg.Coordinator(context.Background(), "", nil)
	require.NoError(t, err)
	names := make([]string, 0, len(cc.Domains))
	for _, d := range cc.Domains {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"authentication", "payments", "accounts"}, names)
	assert.Equal(t, 0.2, cc.Filtering.SamplingRate)
	assert.False(t, cc.Filtering.ExcludeThirdPartyErrors)
}

func TestRegoModuleFileResolvesAgainstBaseDir(t *testing.T) {
	dir := t.TempDir()
	module := "package signals.filter\ndefault keep := false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drop_all.rego"), []byte(module), 0o600))
	cfgPath := filepath.Join(dir, "signals.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("preset: saas\nfiltering:\n  rules:\n    - type: rego\n      module_file: drop_all.rego\n"), 0o600))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	update, err := cfg.FilterUpdate(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Len(t, update.CustomFilters, 1)
	assert.False(t, update.CustomFilters[0](domain.TelemetryEvent{}, domain.UserContext{}))
	assert.Equal(t, 0.3, *update.SamplingRate)
	assert.NotNil(t, update.DomainWhitelist)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNALS_LOG_LEVEL", "warn")
	t.Setenv("SIGNALS_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("SIGNALS_SAMPLING_RATE", "0.75")
	t.Setenv("SIGNALS_BOT_DETECTION", "false")
	t.Setenv("SIGNALS_DOMAIN_WHITELIST", "a.example.com, b.example.com")
	t.Setenv("SIGNALS_DEBUG", "true")

	cfg, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "otel:4317", cfg.Telemetry.Endpoint)
	assert.Equal(t, 0.75, *cfg.Filtering.SamplingRate)
	assert.False(t, *cfg.Filtering.EnableBotDetection)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.Filtering.DomainWhitelist)
	assert.True(t, cfg.Debug)
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	t.Setenv("SIGNALS_SAMPLING_RATE", "most")
	_, err := Load("")
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"sla":           "domains:\n  - name: a\n    sla_target_ms: 0\n    error_threshold: 0.1\n",
		"threshold":     "domains:\n  - name: a\n    sla_target_ms: 10\n    error_threshold: 2\n",
		"duplicate":     "domains:\n  - {name: a, sla_target_ms: 10, error_threshold: 0.1}\n  - {name: a, sla_target_ms: 10, error_threshold: 0.1}\n",
		"priority":      "domains:\n  - {name: a, priority: urgent, sla_target_ms: 10, error_threshold: 0.1}\n",
		"sampling":      "filtering:\n  sampling_rate: 1.5\n",
		"rule type":     "filtering:\n  rules:\n    - type: lua\n",
		"rule field":    "filtering:\n  rules:\n    - operator: equals\n",
		"rego module":   "filtering:\n  rules:\n    - type: rego\n",
		"platform type": "platforms:\n  - type: datadog\n",
		"platform dup":  "platforms:\n  - type: memory\n  - type: memory\n",
		"redaction":     "platforms:\n  - type: log\n    options:\n      redact: user.email:masked\n",
		"protocol":      "telemetry:\n  protocol: udp\n",
		"log level":     "logging:\n  level: chatty\n",
		"device":        "user:\n  device_type: watch\n",
		"preset":        "preset: gaming\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
		})
	}
}

func TestCoordinatorNeedsDomains(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	_, err = cfg.Coordinator(context.Background(), "", nil)
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
