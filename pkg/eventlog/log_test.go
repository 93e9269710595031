package eventlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-signals/pkg/domain"
)

func event(i int) domain.TelemetryEvent {
	return domain.TelemetryEvent{ID: fmt.Sprintf("evt-%d", i), Name: "test"}
}

func ids(events []domain.TelemetryEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestAppendEvictsOldest(t *testing.T) {
	log := New(3)
	for i := 1; i <= 3; i++ {
		_, evicted := log.Append(event(i))
		assert.False(t, evicted)
	}
	seq, evicted := log.Append(event(4))
	assert.True(t, evicted)
	assert.Equal(t, uint64(4), seq)

	assert.Equal(t, []string{"evt-2", "evt-3", "evt-4"}, ids(log.Events()))
	assert.Equal(t, 3, log.Len())
	assert.Equal(t, uint64(1), log.Evicted())
}

func TestSinceAndFind(t *testing.T) {
	log := New(5)
	for i := 1; i <= 7; i++ {
		log.Append(event(i))
	}

	entries := log.Since(6)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(6), entries[0].Sequence)
	assert.Equal(t, "evt-7", entries[1].Event.ID)

	_, ok := log.Find("evt-1")
	assert.False(t, ok)
	got, ok := log.Find("evt-5")
	assert.True(t, ok)
	assert.Equal(t, "evt-5", got.ID)
}

func TestRemoveOlderThan(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	log := New(4)
	for i, age := range []time.Duration{time.Hour, 30 * time.Minute, time.Minute} {
		e := event(i)
		e.Timestamp = now.Add(-age)
		log.Append(e)
	}

	assert.Equal(t, 2, log.RemoveOlderThan(10*time.Minute, now))
	assert.Equal(t, []string{"evt-2"}, ids(log.Events()))
}

func TestClearKeepsSequencing(t *testing.T) {
	log := New(2)
	log.Append(event(1))
	log.Append(event(2))
	log.Append(event(3))
	log.Clear()

	assert.Zero(t, log.Len())
	assert.Zero(t, log.Evicted())
	assert.Empty(t, log.Events())

	seq, _ := log.Append(event(4))
	assert.Equal(t, uint64(4), seq)
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
}

func TestConcurrentAppend(t *testing.T) {
	log := New(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				log.Append(event(w*100 + i))
				_ = log.Events()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, log.Len())
	assert.Equal(t, uint64(750), log.Evicted())
}
