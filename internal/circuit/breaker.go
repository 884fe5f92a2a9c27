// Package circuit implements a consecutive-failure circuit breaker for
// outbound provider calls. After enough failures in a row the breaker
// opens and calls fail fast for a cooldown window; a single half-open
// probe then decides whether to close again.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned by Allow while the breaker is cooling down.
var ErrOpen = errors.New("circuit open")

// Config tunes the breaker.
type Config struct {
	MaxConsecutiveFailures int
	Cooldown               time.Duration
}

// DefaultConfig returns the defaults used for LLM provider calls.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 5,
		Cooldown:               5 * time.Minute,
	}
}

// Breaker guards a dependency that fails in bursts. The zero value is not
// usable; construct with New.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	failures int
	openedAt time.Time

	now func() time.Time
}

// New creates a closed breaker. Non-positive config values fall back to
// the defaults.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. When the cooldown has elapsed
// the breaker moves to half-open and lets exactly one probe through;
// further calls fail fast until the probe result is recorded.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = StateHalfOpen
			return nil
		}
		return ErrOpen
	default:
		// Half-open with a probe already in flight.
		return ErrOpen
	}
}

// Record feeds a call result back into the breaker. A nil error closes a
// half-open breaker and resets the failure count; an error reopens it or
// moves a closed breaker toward its failure limit.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.MaxConsecutiveFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// Discard abandons a call without judging it. A half-open breaker goes
// back to open with its original trip time, so the next call probes again
// immediately. Callers use this for results that say nothing about the
// dependency, like a canceled context.
func (b *Breaker) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.state = StateOpen
	}
}

// CurrentState returns the breaker position.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
