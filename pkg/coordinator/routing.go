package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

// route is the sink of every instrumentor.
func (c *Coordinator) route(event domain.TelemetryEvent) {
	c.mu.RLock()
	state, uc := c.state, c.uc
	c.mu.RUnlock()

	if state != StateInitialized {
		c.logger.Debug("event discarded, coordinator not initialized",
			slog.String("event", event.Name))
		return
	}

	decision := c.engine.Decide(context.Background(), event, uc)
	if !decision.Admitted {
		c.dropped.Add(1)
		if c.cfg.Debug {
			c.logger.Debug("event dropped",
				slog.String("event_id", event.ID),
				slog.String("event", event.Name),
				slog.String("rule", decision.Rule))
		}
		return
	}

	// Dispatch happens under the read lock so Destroy cannot start waiting
	// between the state check and inflight.Add.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateInitialized {
		return
	}

	c.log.Append(event)
	c.processed.Add(1)
	if c.cfg.Debug {
		c.logger.Debug("event admitted",
			slog.String("event_id", event.ID),
			slog.String("event", event.Name),
			slog.String("rule", decision.Rule))
	}

	for _, exp := range c.exporters {
		c.inflight.Add(1)
		go c.export(c.inflight, exp, event)
	}
}

// export delivers one event to one exporter. Failures and panics are logged and
// counted, never propagated.
func (c *Coordinator) export(inflight *sync.WaitGroup, exp domain.Exporter, event domain.TelemetryEvent) {
	defer inflight.Done()

	timeout := c.cfg.ExportTimeout
	if timeout <= 0 {
		timeout = defaultExportTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	err := safeExport(ctx, exp, event)
	telemetry.RecordExport(ctx, telemetry.ExportOutcome{
		Exporter: exp.Name(),
		Events:   1,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		c.exportErrors.Add(1)
		c.logger.Warn("export failed",
			slog.String("exporter", exp.Name()),
			slog.String("event_id", event.ID),
			slog.Any("error", err))
	}
}

func safeExport(ctx context.Context, exp domain.Exporter, event domain.TelemetryEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exporter %s panicked: %v", exp.Name(), r)
		}
	}()
	return exp.Export(ctx, []domain.TelemetryEvent{event})
}
