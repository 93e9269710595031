package exporter

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-signals/pkg/domain"
)

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(domain.PlatformConfig{Endpoint: "redis://:pw@cache:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)

	opts, err = redisOptions(domain.PlatformConfig{Endpoint: "localhost:6379", APIKey: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)

	_, err = redisOptions(domain.PlatformConfig{})
	assert.Error(t, err)
}

func TestRedisExporterAppendsToStream(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	stream := "signals:test:" + t.Name()
	require.NoError(t, client.Del(ctx, stream).Err())

	r := NewRedis(nil, WithRedisClient(client))
	require.NoError(t, r.Configure(domain.PlatformConfig{Type: TypeRedis, Options: map[string]string{"stream": stream}}))
	require.NoError(t, r.Export(ctx, []domain.TelemetryEvent{sampleEvent("e1"), sampleEvent("e2")}))
	require.NoError(t, r.Destroy(ctx))

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e1", entries[0].Values["id"])
	assert.Equal(t, "ecommerce", entries[0].Values["domain"])
	assert.NoError(t, client.Ping(ctx).Err(), "provided client stays open")
}
