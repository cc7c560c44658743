package dataset

import (
	"sync"
	"time"
)

// CircuitState is the state of a circuitBreaker.
type CircuitState int

const (
	// CircuitClosed allows calls through normally.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls immediately.
	CircuitOpen
	// CircuitHalfOpen lets one probe call through to test recovery.
	CircuitHalfOpen
)

// String returns the human-readable name for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// circuitBreaker opens after threshold consecutive failures and lets a
// single probe through once resetAfter has elapsed.
//
// Thread Safety: Safe for concurrent use.
type circuitBreaker struct {
	threshold  int
	resetAfter time.Duration
	now        func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	openedAt    time.Time
	probeActive bool
}

func newCircuitBreaker(threshold int, resetAfter time.Duration, now func() time.Time) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetAfter: resetAfter, now: now}
}

// Allow reports whether a call may proceed.
func (cb *circuitBreaker) Allow() bool {
	if cb.threshold <= 0 {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.resetAfter {
			cb.state = CircuitHalfOpen
			cb.probeActive = true
			return true
		}
		return false
	default:
		if cb.probeActive {
			return false
		}
		cb.probeActive = true
		return true
	}
}

// RecordSuccess closes the circuit.
func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probeActive = false
}

// RecordFailure counts a failure; a failed probe reopens immediately.
func (cb *circuitBreaker) RecordFailure() {
	if cb.threshold <= 0 {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.probeActive = false
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state.
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
