// Package risk contains the per-venue circuit breaker protecting the
// submission pipeline from failing venues.
package risk

import (
	"sync"
	"sync/atomic"
	"time"
)

type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures for one venue. After
// failureThreshold consecutive failures it opens and rejects admissions
// until recoveryTimeout has elapsed, then lets a probe through half-open.
type CircuitBreaker struct {
	failureThreshold int
	recoveryTimeout  time.Duration

	state         atomic.Int32
	failureCount  atomic.Int32
	lastFailureMs atomic.Int64

	mu sync.Mutex // serializes state transitions
}

func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Admit reports whether a request may proceed. Closed and HalfOpen admit;
// Open admits once the recovery timeout has elapsed since the last failure,
// transitioning to HalfOpen. Concurrent callers during HalfOpen all observe
// Allow: the pipeline funnels one attempt at a time per order, so strict
// single-probe semantics are not needed.
func (cb *CircuitBreaker) Admit() bool {
	// Fast path: no lock while the circuit is closed.
	if CircuitState(cb.state.Load()) == CircuitClosed {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch CircuitState(cb.state.Load()) {
	case CircuitOpen:
		elapsed := time.Since(time.UnixMilli(cb.lastFailureMs.Load()))
		if elapsed >= cb.recoveryTimeout {
			cb.state.Store(int32(CircuitHalfOpen))
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state.Store(int32(CircuitClosed))
	cb.failureCount.Store(0)
}

// RecordFailure counts a failure. The circuit opens when the count reaches
// the threshold while closed, and reopens on any failure while half-open.
func (cb *CircuitBreaker) RecordFailure() {
	count := cb.failureCount.Add(1)
	cb.lastFailureMs.Store(time.Now().UnixMilli())

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		if int(count) >= cb.failureThreshold {
			cb.state.Store(int32(CircuitOpen))
		}
	case CircuitHalfOpen:
		cb.state.Store(int32(CircuitOpen))
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(cb.state.Load())
}

// FailureCount returns the consecutive failure count.
func (cb *CircuitBreaker) FailureCount() int {
	return int(cb.failureCount.Load())
}

// ForceOpen trips the breaker manually.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state.Store(int32(CircuitOpen))
	cb.lastFailureMs.Store(time.Now().UnixMilli())
}

// ForceClose resets the breaker manually.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state.Store(int32(CircuitClosed))
	cb.failureCount.Store(0)
}
