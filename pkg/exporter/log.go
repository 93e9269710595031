package exporter

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// Log writes every event as a structured log record.
type Log struct {
	logger *slog.Logger

	mu         sync.RWMutex
	name       string
	level      slog.Level
	redactions []telemetry.Redaction
}

// NewLog returns a log exporter writing to logger.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger, name: TypeLog, level: slog.LevelInfo}
}

func (l *Log) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// Configure reads the "level" and "redact" options.
func (l *Log) Configure(cfg domain.PlatformConfig) error {
	redactions, err := platformRedactions(cfg)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if raw := cfg.Option("level", ""); raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(raw))); err != nil {
			return &domain.ConfigError{Field: "platforms." + cfg.DisplayName() + ".options.level", Message: err.Error()}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.name = cfg.DisplayName()
	l.level = level
	l.redactions = redactions
	return nil
}

func (l *Log) Export(ctx context.Context, events []domain.TelemetryEvent) error {
	l.mu.RLock()
	level, redactions, name := l.level, l.redactions, l.name
	l.mu.RUnlock()

	for _, event := range redactEvents(events, redactions) {
		attrs := []slog.Attr{
			slog.String("exporter", name),
			slog.String("event_id", event.ID),
			slog.String("domain", event.Domain),
			slog.String("event_type", string(event.Type)),
			slog.String("name", event.Name),
			slog.String("impact", string(event.Business.Impact)),
		}
		if event.Severity != "" {
			attrs = append(attrs, slog.String("severity", string(event.Severity)))
		}
		if event.Business.UserJourney != "" {
			attrs = append(attrs, slog.String("journey", event.Business.UserJourney))
		}
		attrs = append(attrs, slog.Any("attributes", sortedAttrs(event.Attributes)))
		l.logger.LogAttrs(ctx, level, "telemetry event", attrs...)
	}
	return nil
}

func sortedAttrs(attrs map[string]any) slog.Value {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	group := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		group = append(group, slog.Any(k, attrs[k]))
	}
	return slog.GroupValue(group...)
}
