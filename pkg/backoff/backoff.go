// Package backoff provides the retry delay strategy used between
// reconnection attempts.
package backoff

import (
	"math/rand"
	"time"
)

const (
	DefaultBase = 1 * time.Second
	DefaultMax  = 5 * time.Second
)

// Strategy yields the delay before each successive retry.
type Strategy interface {
	Next() time.Duration
	Reset()
}

// Exponential doubles the delay on every attempt up to a ceiling:
// min(base * 2^(attempt-1), max). With Jitter enabled each delay gains a
// random slice of up to a quarter of the step, spreading retries from
// many instances reconnecting at once.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool

	attempt int
}

// NewExponential returns an exponential strategy. Non-positive arguments
// use the defaults.
func NewExponential(base, max time.Duration) *Exponential {
	if base <= 0 {
		base = DefaultBase
	}
	if max <= 0 || max < base {
		max = DefaultMax
		if max < base {
			max = base
		}
	}
	return &Exponential{Base: base, Max: max}
}

// Next returns the delay for the next attempt and advances the schedule.
func (e *Exponential) Next() time.Duration {
	delay := e.Base << e.attempt
	if delay > e.Max || delay <= 0 { // <= 0 on shift overflow
		delay = e.Max
	} else {
		e.attempt++
	}
	if e.Jitter {
		jitterRange := int64(delay / 4)
		if jitterRange > 0 {
			delay += time.Duration(rand.Int63n(jitterRange))
		}
	}
	return delay
}

// Reset rewinds the schedule to the base delay.
func (e *Exponential) Reset() {
	e.attempt = 0
}
