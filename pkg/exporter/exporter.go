package exporter

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// Exporter types accepted by New.
const (
	TypeLog        = "log"
	TypeMemory     = "memory"
	TypeOTLP       = "otlp"
	TypePrometheus = "prometheus"
	TypeWebhook    = "webhook"
	TypeSQLite     = "sqlite"
	TypePostgres   = "postgres"
	TypeRedis      = "redis"
)

// Option keys shared by several backends.
const (
	OptionRedact = "redact"
	OptionTable  = "table"
)

// Types lists the supported exporter types.
func Types() []string {
	return []string{TypeLog, TypeMemory, TypeOTLP, TypePrometheus, TypeWebhook, TypeSQLite, TypePostgres, TypeRedis}
}

// New builds an unconfigured exporter for cfg.Type. Callers must invoke
// Configure before Export.
func New(cfg domain.PlatformConfig, logger *slog.Logger) (domain.Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeLog, "console":
		return NewLog(logger), nil
	case TypeMemory:
		return NewMemory(), nil
	case TypeOTLP:
		return NewOTLP(logger), nil
	case TypePrometheus:
		return NewPrometheus(), nil
	case TypeWebhook, "http":
		return NewWebhook(logger), nil
	case TypeSQLite:
		return NewSQL(DialectSQLite, logger), nil
	case TypePostgres, "postgresql":
		return NewSQL(DialectPostgres, logger), nil
	case TypeRedis:
		return NewRedis(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s)", domain.ErrExporterUnknown, cfg.Type, strings.Join(Types(), ", "))
	}
}

func errNotConfigured(name string) error {
	return fmt.Errorf("%w: %s is not configured", domain.ErrExporterDisabled, name)
}

// ParseRedactions reads the "redact" option: a comma separated list of
// attribute[:strategy] entries, e.g. "user.id:hash,user.email:mask,token".
// Unknown strategies are rejected.
func ParseRedactions(option string) ([]telemetry.Redaction, error) {
	var out []telemetry.Redaction
	for _, part := range strings.Split(option, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		attr, strategy, _ := strings.Cut(part, ":")
		attr, strategy = strings.TrimSpace(attr), strings.TrimSpace(strategy)
		if attr == "" {
			return nil, fmt.Errorf("redaction %q names no attribute", part)
		}
		if !telemetry.ValidStrategy(strategy) {
			return nil, fmt.Errorf("unknown redaction strategy %q for %s (supported: %s, %s, %s, %s)",
				strategy, attr, telemetry.StrategyDrop, telemetry.StrategyMask, telemetry.StrategyHash, telemetry.StrategyReplace)
		}
		out = append(out, telemetry.Redaction{Attribute: attr, Strategy: strategy})
	}
	return out, nil
}

func platformRedactions(cfg domain.PlatformConfig) ([]telemetry.Redaction, error) {
	redactions, err := ParseRedactions(cfg.Option(OptionRedact, ""))
	if err != nil {
		return nil, &domain.ConfigError{Field: "platforms." + cfg.DisplayName() + ".options." + OptionRedact, Message: err.Error()}
	}
	return redactions, nil
}

// redactEvents returns copies of events with redaction applied to attributes.
func redactEvents(events []domain.TelemetryEvent, redactions []telemetry.Redaction) []domain.TelemetryEvent {
	out := make([]domain.TelemetryEvent, len(events))
	for i, e := range events {
		e.Attributes = telemetry.RedactEventAttributes(e.Attributes, redactions)
		out[i] = e
	}
	return out
}

func optionInt(cfg domain.PlatformConfig, key string, fallback int) (int, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ConfigError{Field: "platforms." + cfg.DisplayName() + ".options." + key, Message: fmt.Sprintf("invalid integer %q", raw)}
	}
	return n, nil
}

func optionBool(cfg domain.PlatformConfig, key string, fallback bool) (bool, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &domain.ConfigError{Field: "platforms." + cfg.DisplayName() + ".options." + key, Message: fmt.Sprintf("invalid boolean %q", raw)}
	}
	return b, nil
}

func optionDuration(cfg domain.PlatformConfig, key string, fallback time.Duration) (time.Duration, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &domain.ConfigError{Field: "platforms." + cfg.DisplayName() + ".options." + key, Message: fmt.Sprintf("invalid duration %q", raw)}
	}
	return d, nil
}

// durationOf reads the duration_ms attribute written by the instrumentor.
func durationOf(event domain.TelemetryEvent) (time.Duration, bool) {
	v, ok := numberAttr(event, domain.AttrDurationMS)
	if !ok || v < 0 {
		return 0, false
	}
	return time.Duration(v * float64(time.Millisecond)), true
}

func numberAttr(event domain.TelemetryEvent, key string) (float64, bool) {
	switch v := event.Attributes[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}
