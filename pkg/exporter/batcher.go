package exporter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/polisai/polis-signals/pkg/domain"
)

const flushTimeout = 10 * time.Second

type flushFunc func(ctx context.Context, events []domain.TelemetryEvent) error

// batcher accumulates events and hands them to flush when the batch is full,
// when the interval elapses, or on Close.
type batcher struct {
	name     string
	size     int
	flush    flushFunc
	logger   *slog.Logger
	mu       sync.Mutex
	pending  []domain.TelemetryEvent
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newBatcher(name string, size int, interval time.Duration, flush flushFunc, logger *slog.Logger) *batcher {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &batcher{
		name:   name,
		size:   size,
		flush:  flush,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if interval > 0 && size > 1 {
		go b.loop(interval)
	} else {
		close(b.done)
	}
	return b
}

// Add queues events and flushes synchronously once the batch is full.
func (b *batcher) Add(ctx context.Context, events []domain.TelemetryEvent) error {
	b.mu.Lock()
	b.pending = append(b.pending, events...)
	var batch []domain.TelemetryEvent
	if len(b.pending) >= b.size {
		batch = b.pending
		b.pending = nil
	}
	b.mu.Unlock()

	if batch == nil {
		return nil
	}
	return b.flush(ctx, batch)
}

// Flush sends everything pending.
func (b *batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return b.flush(ctx, batch)
}

// Pending returns the number of queued events.
func (b *batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close stops the interval loop and flushes what is left.
func (b *batcher) Close(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
	return b.Flush(ctx)
}

func (b *batcher) loop(interval time.Duration) {
	defer close(b.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
			if err := b.Flush(ctx); err != nil {
				b.logger.Warn("scheduled flush failed",
					slog.String("exporter", b.name),
					slog.Any("error", err))
			}
			cancel()
		}
	}
}
