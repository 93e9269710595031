package config

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "preset: media\n")

	var (
		mu   sync.Mutex
		seen []*Config
	)
	w, err := Watch(path, func(c *Config) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	assert.Equal(t, "media", w.Current().Preset)

	require.NoError(t, os.WriteFile(path, []byte("preset: saas\n"), 0o600))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1].Preset == "saas"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "saas", w.Current().Preset)
}

func TestCloseWaitsForRunningReload(t *testing.T) {
	path := writeConfig(t, "preset: media\n")

	started := make(chan struct{})
	release := make(chan struct{})
	var afterClose atomic.Bool
	var closed atomic.Bool
	w, err := Watch(path, func(*Config) {
		if closed.Load() {
			afterClose.Store(true)
		}
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("preset: saas\n"), 0o600))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback never ran")
	}

	done := make(chan error, 1)
	go func() {
		done <- w.Close()
		closed.Store(true)
	}()
	select {
	case <-done:
		t.Fatal("Close returned while a reload callback was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)

	require.NoError(t, os.WriteFile(path, []byte("preset: fintech\n"), 0o600))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, afterClose.Load())
}

func TestWatcherKeepsLastGoodConfig(t *testing.T) {
	path := writeConfig(t, "preset: media\n")
	w, err := Watch(path, nil, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("preset: gaming\n"), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "media", w.Current().Preset)
	assert.Zero(t, w.Reloads())
}

func TestWatchRejectsInvalidInitialConfig(t *testing.T) {
	_, err := Watch(writeConfig(t, "preset: gaming\n"), nil)
	assert.Error(t, err)
}
