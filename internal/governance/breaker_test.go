package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBackend = errors.New("backend unavailable")

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerConfig{MaxFailures: 3, Cooldown: time.Minute}).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Do(ctx, fail), errBackend)
	}
	require.NoError(t, b.Do(ctx, succeed), "success resets the streak")
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(ctx, fail), errBackend)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, 1, b.Stats().Rejected)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: 10 * time.Second}).WithClock(clock.Now)
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(11 * time.Second)
	assert.ErrorIs(t, b.Do(ctx, fail), errBackend, "failed probe reopens")
	assert.Equal(t, StateOpen, b.State())

	clock.Advance(11 * time.Second)
	require.NoError(t, b.Do(ctx, succeed))
	assert.Equal(t, StateClosed, b.State())

	stats := b.Stats()
	assert.Equal(t, 2, stats.Failures)
	assert.Equal(t, 1, stats.Successes)
}

func TestBreakerIgnoresCallerCancellation(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())

	err := b.Do(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Do(ctx, succeed), context.Canceled)
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{MaxFailures: 1})
	_ = b.Do(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Stats().Failures)
}
