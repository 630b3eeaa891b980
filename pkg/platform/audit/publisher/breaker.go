package publisher

import (
	"sync"
	"time"
)

// CircuitBreaker stops hammering an unhealthy audit sink. After threshold
// consecutive failures the circuit opens and events are dropped until the
// cooldown passes; the next event then probes the sink.
type CircuitBreaker struct {
	mu  sync.Mutex
	now func() time.Time

	threshold int
	cooldown  time.Duration

	failures  int
	openUntil time.Time
	open      bool
}

// NewCircuitBreaker creates a circuit breaker. Non-positive arguments fall
// back to 5 failures and one minute.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether an attempt may go through. An expired open circuit
// becomes half-open: one attempt is allowed and a single failure reopens it.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return true
	}
	if cb.now().After(cb.openUntil) {
		cb.open = false
		cb.failures = cb.threshold - 1
		return true
	}
	return false
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.open = false
}

// RecordFailure counts a failure and reports whether the circuit is now open.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.open = true
		cb.openUntil = cb.now().Add(cb.cooldown)
	}
	return cb.open
}

// IsOpen reports whether the circuit is open.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open
}
