// Package eventlog keeps the most recent admitted telemetry events in memory
// for diagnostics and replay.
package eventlog

import (
	"sync"
	"time"

	"github.com/polisai/polis-signals/pkg/domain"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// Entry is an event together with its position in the log.
type Entry struct {
	Sequence uint64
	Event    domain.TelemetryEvent
}

// Log is a thread-safe fixed-size circular buffer with oldest-first eviction.
// Sequence numbers start at 1 and keep increasing across evictions and Clear.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	head     int // oldest element
	tail     int // next insertion point
	size     int
	capacity int
	nextSeq  uint64
	evicted  uint64
}

// New creates a log holding at most capacity events.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		nextSeq:  1,
	}
}

// Append stores event and returns its sequence number. It reports whether the
// oldest event was evicted to make room.
func (l *Log) Append(event domain.TelemetryEvent) (seq uint64, evicted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq = l.nextSeq
	l.nextSeq++

	l.entries[l.tail] = Entry{Sequence: seq, Event: event}
	l.tail = (l.tail + 1) % l.capacity

	if l.size < l.capacity {
		l.size++
	} else {
		l.head = (l.head + 1) % l.capacity
		l.evicted++
		evicted = true
	}
	return seq, evicted
}

// Events returns the retained events, oldest first.
func (l *Log) Events() []domain.TelemetryEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.TelemetryEvent, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.entries[(l.head+i)%l.capacity].Event)
	}
	return out
}

// Since returns the retained entries with a sequence number >= seq.
func (l *Log) Since(seq uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for i := 0; i < l.size; i++ {
		entry := l.entries[(l.head+i)%l.capacity]
		if entry.Sequence >= seq {
			out = append(out, entry)
		}
	}
	return out
}

// Find returns the retained event with the given ID.
func (l *Log) Find(id string) (domain.TelemetryEvent, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := 0; i < l.size; i++ {
		entry := l.entries[(l.head+i)%l.capacity]
		if entry.Event.ID == id {
			return entry.Event, true
		}
	}
	return domain.TelemetryEvent{}, false
}

// RemoveOlderThan drops events whose timestamp is before now-age and returns
// how many were removed.
func (l *Log) RemoveOlderThan(age time.Duration, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-age)
	removed := 0
	for l.size > 0 {
		if !l.entries[l.head].Event.Timestamp.Before(cutoff) {
			break
		}
		l.entries[l.head] = Entry{}
		l.head = (l.head + 1) % l.capacity
		l.size--
		removed++
	}
	return removed
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of retained events.
func (l *Log) Capacity() int {
	return l.capacity
}

// Evicted returns how many events were pushed out by newer ones.
func (l *Log) Evicted() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evicted
}

// Clear removes every event and resets the eviction count.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.entries)
	l.head = 0
	l.tail = 0
	l.size = 0
	l.evicted = 0
}
