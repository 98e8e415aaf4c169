// Copyright 2025 James Ross
package breaker

import (
	"sync"
	"time"
)

// State is a circuit breaker state, spec §4.4: closed → open → half-open.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker is a per-source breaker keyed on consecutive failures,
// per spec §4.4/§8: it opens on exactly failure_threshold consecutive
// failures, and a single successful probe in half-open closes it.
// Permanent-class errors short-circuit straight to Open via Trip.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	threshold        int
	cooldown         time.Duration
	longerCooldown   time.Duration
	consecutiveFails int
	openedAt         time.Time
	halfOpenInFlight bool
}

// New builds a breaker that opens after threshold consecutive failures
// and waits cooldown before allowing a half-open probe.
func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:          Closed,
		threshold:      threshold,
		cooldown:       cooldown,
		longerCooldown: cooldown * 2,
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a new attempt may proceed, transitioning Open to
// HalfOpen once the cooldown elapses and admitting exactly one probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case Open:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = HalfOpen
			cb.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenInFlight {
			return false
		}
		cb.halfOpenInFlight = true
		return true
	default:
		return true
	}
}

// Record reports the outcome of an attempt that Allow had approved.
func (cb *CircuitBreaker) Record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := time.Now()

	switch cb.state {
	case HalfOpen:
		cb.halfOpenInFlight = false
		if ok {
			cb.state = Closed
			cb.consecutiveFails = 0
		} else {
			cb.state = Open
			cb.openedAt = now
			cb.cooldown = cb.longerCooldown
			cb.longerCooldown = cb.cooldown * 2
		}
	case Closed:
		if ok {
			cb.consecutiveFails = 0
			return
		}
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.threshold {
			cb.state = Open
			cb.openedAt = now
		}
	case Open:
		// outcomes can't be recorded while open; Allow gates entry.
	}
}

// Trip forces the breaker directly to Open, used for permanent-class
// errors (auth failure, schema mismatch) that should never be retried
// blindly per spec §4.4.
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = Open
	cb.openedAt = time.Now()
	cb.consecutiveFails = cb.threshold
}

// Reset returns the breaker to Closed with a clean failure count, used
// when a source is explicitly stopped and later restarted.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = Closed
	cb.consecutiveFails = 0
	cb.halfOpenInFlight = false
}

// ConsecutiveFailures reports the current streak, exposed for metrics.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}
