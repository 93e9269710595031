package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/telemetry"
)

const (
	defaultStream       = "signals:events"
	defaultStreamMaxLen = 10000
)

// Redis appends events to a capped Redis stream, one entry per event.
type Redis struct {
	logger   *slog.Logger
	provided *redis.Client

	mu         sync.RWMutex
	name       string
	client     *redis.Client
	owned      bool
	stream     string
	maxLen     int64
	redactions []telemetry.Redaction
	batch      *batcher
}

// RedisOption customises a Redis exporter.
type RedisOption func(*Redis)

// WithRedisClient uses an existing client instead of dialing the endpoint. The
// exporter does not close it.
func WithRedisClient(c *redis.Client) RedisOption {
	return func(r *Redis) { r.provided = c }
}

// NewRedis returns an unconfigured Redis exporter.
func NewRedis(logger *slog.Logger, opts ...RedisOption) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Redis{logger: logger, name: TypeRedis}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// Configure dials the endpoint (a redis:// URL or host:port) and reads the
// "stream" and "max_len" options.
func (r *Redis) Configure(cfg domain.PlatformConfig) error {
	redactions, err := platformRedactions(cfg)
	if err != nil {
		return err
	}

	field := "platforms." + cfg.DisplayName()
	maxLen, err := optionInt(cfg, "max_len", defaultStreamMaxLen)
	if err != nil {
		return err
	}

	client, owned := r.provided, false
	if client == nil {
		opts, err := redisOptions(cfg)
		if err != nil {
			return &domain.ConfigError{Field: field + ".endpoint", Message: err.Error()}
		}
		client, owned = redis.NewClient(opts), true
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		if owned {
			_ = client.Close()
		}
		return fmt.Errorf("ping redis: %w", err)
	}

	r.mu.Lock()
	previousClient, previousOwned, previousBatch := r.client, r.owned, r.batch
	r.name = cfg.DisplayName()
	r.client = client
	r.owned = owned
	r.stream = cfg.Option("stream", defaultStream)
	r.maxLen = int64(maxLen)
	r.redactions = redactions
	r.batch = newBatcher(r.name, cfg.BatchSize, cfg.FlushInterval, r.write, r.logger)
	r.mu.Unlock()

	if previousBatch != nil {
		if err := previousBatch.Close(ctx); err != nil {
			r.logger.Warn("flush before reconfigure failed", slog.String("exporter", r.name), slog.Any("error", err))
		}
	}
	if previousClient != nil && previousOwned {
		_ = previousClient.Close()
	}
	return nil
}

func redisOptions(cfg domain.PlatformConfig) (*redis.Options, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("redis exporter requires an endpoint")
	}
	if strings.HasPrefix(cfg.Endpoint, "redis://") || strings.HasPrefix(cfg.Endpoint, "rediss://") {
		opts, err := redis.ParseURL(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		if opts.Password == "" {
			opts.Password = cfg.APIKey
		}
		return opts, nil
	}
	return &redis.Options{Addr: cfg.Endpoint, Password: cfg.APIKey}, nil
}

func (r *Redis) Export(ctx context.Context, events []domain.TelemetryEvent) error {
	r.mu.RLock()
	batch, name := r.batch, r.name
	r.mu.RUnlock()
	if batch == nil {
		return errNotConfigured(name)
	}
	return batch.Add(ctx, events)
}

// Flush writes pending events immediately.
func (r *Redis) Flush(ctx context.Context) error {
	r.mu.RLock()
	batch := r.batch
	r.mu.RUnlock()
	if batch == nil {
		return nil
	}
	return batch.Flush(ctx)
}

// Stream returns the configured stream key.
func (r *Redis) Stream() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stream
}

// Destroy flushes pending events and closes a client the exporter dialed.
func (r *Redis) Destroy(ctx context.Context) error {
	r.mu.Lock()
	batch := r.batch
	r.batch = nil
	r.mu.Unlock()
	if batch == nil {
		return nil
	}
	flushErr := batch.Close(ctx)

	r.mu.Lock()
	client, owned := r.client, r.owned
	r.client = nil
	r.mu.Unlock()
	if owned {
		if err := client.Close(); err != nil && flushErr == nil {
			return err
		}
	}
	return flushErr
}

func (r *Redis) write(ctx context.Context, events []domain.TelemetryEvent) error {
	r.mu.RLock()
	client, stream, maxLen, redactions := r.client, r.stream, r.maxLen, r.redactions
	r.mu.RUnlock()
	if client == nil {
		return errNotConfigured(r.Name())
	}

	pipe := client.Pipeline()
	for _, e := range redactEvents(events, redactions) {
		attrs, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes of %s: %w", e.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: maxLen,
			Approx: true,
			Values: map[string]any{
				"id":         e.ID,
				"timestamp":  e.Timestamp.UnixMilli(),
				"domain":     e.Domain,
				"event_type": string(e.Type),
				"name":       e.Name,
				"severity":   string(e.Severity),
				"impact":     string(e.Business.Impact),
				"journey":    e.Business.UserJourney,
				"attributes": string(attrs),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}
