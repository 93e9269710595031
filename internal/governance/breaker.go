package governance

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the state of a Breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerConfig defines thresholds for circuit breaking.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// Cooldown is how long the circuit stays open before allowing probes.
	Cooldown time.Duration
	// HalfOpenProbes is the number of successful probes that close the circuit.
	HalfOpenProbes int
}

// DefaultBreakerConfig returns the defaults used by remote exporters.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:    5,
		Cooldown:       30 * time.Second,
		HalfOpenProbes: 1,
	}
}

// Breaker implements the circuit breaker pattern for one backend.
type Breaker struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	inFlightProbes       int
	openUntil            time.Time
	lastStateChange      time.Time
	failures             int
	successes            int
	rejected             int
}

// NewBreaker creates a breaker. Non-positive fields fall back to the defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = def.HalfOpenProbes
	}
	return &Breaker{
		cfg:             cfg,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// WithClock replaces the time source. Intended for tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now != nil {
		b.now = now
	}
	return b
}

// Do runs fn unless the circuit is open. The outcome of fn updates the breaker;
// context cancellation by the caller is not counted as a backend failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.openUntil) {
			b.rejected++
			return ErrCircuitOpen
		}
		b.transitionLocked(StateHalfOpen)
		b.inFlightProbes++
		return nil
	case StateHalfOpen:
		if b.inFlightProbes >= b.cfg.HalfOpenProbes {
			b.rejected++
			return ErrCircuitOpen
		}
		b.inFlightProbes++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.inFlightProbes > 0 {
		b.inFlightProbes--
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.successes++
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
	} else {
		b.failures++
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
	}

	switch b.state {
	case StateHalfOpen:
		if err != nil {
			b.transitionLocked(StateOpen)
			return
		}
		if b.consecutiveSuccesses >= b.cfg.HalfOpenProbes {
			b.transitionLocked(StateClosed)
		}
	case StateClosed:
		if err != nil && b.consecutiveFailures >= b.cfg.MaxFailures {
			b.transitionLocked(StateOpen)
		}
	}
}

func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		return
	}
	now := b.now()
	b.state = next
	b.lastStateChange = now
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.inFlightProbes = 0
	if next == StateOpen {
		b.openUntil = now.Add(b.cfg.Cooldown)
	} else {
		b.openUntil = time.Time{}
	}
}

// State returns the current state. An open circuit whose cool-down elapsed is
// still reported as open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats exposes breaker status for diagnostics.
type BreakerStats struct {
	State           State     `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	Rejected        int       `json:"rejected"`
	LastStateChange time.Time `json:"lastStateChange"`
}

// Stats returns cumulative counts and the current state.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		Rejected:        b.rejected,
		LastStateChange: b.lastStateChange,
	}
}

// Reset closes the circuit and clears the counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.failures = 0
	b.successes = 0
	b.rejected = 0
}
