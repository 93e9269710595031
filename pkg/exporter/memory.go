package exporter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/eventlog"
)

// Memory keeps exported events in process. It is meant for tests and for hosts
// that read events back, e.g. a diagnostics endpoint.
type Memory struct {
	mu      sync.RWMutex
	name    string
	log     *eventlog.Log
	batches atomic.Int64
	failure error
}

// NewMemory returns an in-memory exporter with the default capacity.
func NewMemory() *Memory {
	return &Memory{name: TypeMemory, log: eventlog.New(eventlog.DefaultCapacity)}
}

func (m *Memory) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// Configure reads the "capacity" option.
func (m *Memory) Configure(cfg domain.PlatformConfig) error {
	capacity, err := optionInt(cfg, "capacity", eventlog.DefaultCapacity)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = cfg.DisplayName()
	m.log = eventlog.New(capacity)
	return nil
}

func (m *Memory) Export(_ context.Context, events []domain.TelemetryEvent) error {
	m.mu.RLock()
	log, failure := m.log, m.failure
	m.mu.RUnlock()

	if failure != nil {
		return failure
	}
	m.batches.Add(1)
	for _, e := range events {
		log.Append(e)
	}
	return nil
}

// FailWith makes every following Export return err. A nil err restores normal
// operation.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Events returns the stored events, oldest first.
func (m *Memory) Events() []domain.TelemetryEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.log.Events()
}

// Batches returns the number of successful Export calls.
func (m *Memory) Batches() int64 {
	return m.batches.Load()
}

// Destroy drops the stored events.
func (m *Memory) Destroy(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.log.Clear()
	return nil
}
