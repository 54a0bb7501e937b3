// Package breaker implements the circuit breaker guarding connection
// attempts. It is pure state-transition logic with no I/O: the connection
// manager records outcomes and asks Allow before dialing.
//
// Backoff alone cannot bound the total attempt rate during a prolonged
// outage; the breaker opens after a run of consecutive failures and blocks
// attempts locally until a cooldown elapses, then admits a single half-open
// trial.
package breaker

import (
	"sync"
	"time"
)

const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// State is a read-only snapshot of the breaker.
type State struct {
	Open             bool
	FailureCount     int
	FailureThreshold int
	Cooldown         time.Duration
	NextAttemptAt    time.Time
}

// Breaker tracks consecutive connection failures.
type Breaker struct {
	mu            sync.Mutex
	threshold     int
	cooldown      time.Duration
	failures      int
	open          bool
	nextAttemptAt time.Time
	now           func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns a breaker that opens after threshold consecutive failures
// and stays open for cooldown. Non-positive arguments use the defaults.
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a connection attempt is currently permitted.
// While open it returns false until the cooldown has elapsed; after that
// it permits trial attempts (half-open). The failure count is only reset
// by RecordSuccess, so a failed trial re-opens the breaker immediately.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return true
	}
	return !b.now().Before(b.nextAttemptAt)
}

// RecordFailure counts a failed connection attempt. Crossing the threshold
// opens the breaker and schedules the next permitted attempt.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.nextAttemptAt = b.now().Add(b.cooldown)
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
	b.nextAttemptAt = time.Time{}
}

// State returns a snapshot of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Open:             b.open,
		FailureCount:     b.failures,
		FailureThreshold: b.threshold,
		Cooldown:         b.cooldown,
		NextAttemptAt:    b.nextAttemptAt,
	}
}
