// Package health provides per-backend circuit breakers and the periodic
// health monitor that feeds them.
package health

import (
	"sync"
	"time"

	"mcpgate/pkg/logging"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed indicates normal operation - requests pass through
	CircuitClosed CircuitState = "closed"
	// CircuitOpen indicates failing state - requests fail immediately
	CircuitOpen CircuitState = "open"
	// CircuitHalfOpen indicates recovery testing - one probe allowed
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker tracks consecutive failures for one backend and gates
// requests through the Closed → Open → HalfOpen → Closed cycle. The
// Open → HalfOpen transition is lazy: it happens on the first
// AllowsRequest read after the cooldown elapses.
type CircuitBreaker struct {
	mu sync.Mutex

	name string // backend name, for logging

	state            CircuitState
	failureCount     int
	failureThreshold int
	cooldown         time.Duration

	lastStateChange time.Time
	lastFailureTime time.Time

	halfOpenProbeInFlight bool
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(name string, failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		lastStateChange:  time.Now(),
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	previous := cb.state
	cb.failureCount = 0
	cb.halfOpenProbeInFlight = false

	if cb.state != CircuitClosed {
		cb.state = CircuitClosed
		cb.lastStateChange = time.Now()
		if previous == CircuitHalfOpen {
			logging.Info("CircuitBreaker", "Backend %s recovered, circuit CLOSED", cb.name)
		}
	}
}

// RecordFailure increments the failure count and opens the circuit when
// the threshold is reached. A failure during half-open recovery re-opens
// immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()
	cb.halfOpenProbeInFlight = false

	switch cb.state {
	case CircuitClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.state = CircuitOpen
			cb.lastStateChange = time.Now()
			logging.Warn("CircuitBreaker", "Backend %s circuit OPENED after %d consecutive failures",
				cb.name, cb.failureCount)
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.lastStateChange = time.Now()
		logging.Warn("CircuitBreaker", "Backend %s recovery probe failed, circuit re-OPENED", cb.name)
	}
}

// AllowsRequest reports whether a request may be dispatched. In the open
// state it transitions to half-open once the cooldown has elapsed and
// admits exactly one probe at a time.
func (cb *CircuitBreaker) AllowsRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(cb.lastStateChange) >= cb.cooldown {
			cb.state = CircuitHalfOpen
			cb.lastStateChange = time.Now()
			cb.halfOpenProbeInFlight = true
			logging.Info("CircuitBreaker", "Backend %s cooldown elapsed, circuit HALF_OPEN", cb.name)
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenProbeInFlight {
			return false
		}
		cb.halfOpenProbeInFlight = true
		return true

	default:
		return false
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot is an immutable view of breaker state for status reporting.
type Snapshot struct {
	State           CircuitState
	FailureCount    int
	LastStateChange time.Time
	LastFailureTime time.Time
}

// GetSnapshot returns an immutable snapshot of the breaker.
func (cb *CircuitBreaker) GetSnapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		State:           cb.state,
		FailureCount:    cb.failureCount,
		LastStateChange: cb.lastStateChange,
		LastFailureTime: cb.lastFailureTime,
	}
}
