// Package resilience provides the circuit breaker guarding LLM
// provider calls and the sliding-window rate limiter for client
// requests.
package resilience

import (
	"sync"
	"time"

	sqlwarderrors "github.com/sqlward/sqlward/internal/errors"
)

// BreakerState is the current state of a circuit breaker
type BreakerState string

const (
	// StateClosed lets calls through and counts failures
	StateClosed BreakerState = "CLOSED"
	// StateOpen rejects calls until the recovery timeout elapses
	StateOpen BreakerState = "OPEN"
	// StateHalfOpen lets one probe call through
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker trips after consecutive failures and recovers through
// a half-open probe. All state transitions happen under the mutex, so
// concurrent callers observe a consistent state.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration

	state        BreakerState
	failureCount int
	lastFailure  time.Time

	now func() time.Time // test seam
}

// NewCircuitBreaker returns a closed breaker
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN to
// HALF_OPEN once the recovery timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
			cb.state = StateHalfOpen
			return true
		}

		return false
	}

	return false
}

// RecordSuccess closes the breaker and clears the failure count
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0
	cb.state = StateClosed
}

// RecordFailure counts a failure, tripping the breaker at the
// threshold. A failure during HALF_OPEN reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Execute runs fn through the breaker, recording the outcome. A tripped
// breaker fails fast with a provider error.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return sqlwarderrors.New(sqlwarderrors.ErrTypeProvider, "circuit breaker is open").
			WithSuggestion("wait for the provider to recover before retrying")
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()

	return nil
}

// BreakerRegistry holds one breaker per provider
type BreakerRegistry struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration
	breakers         map[string]*CircuitBreaker
}

// NewBreakerRegistry returns a registry that creates breakers on demand
// with the given defaults.
func NewBreakerRegistry(failureThreshold int, recoveryTimeout time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		breakers:         make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a provider, creating it if needed
func (r *BreakerRegistry) Get(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(r.failureThreshold, r.recoveryTimeout)
		r.breakers[provider] = cb
	}

	return cb
}

// States returns a snapshot of every provider's breaker state
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]BreakerState, len(r.breakers))
	for provider, cb := range r.breakers {
		states[provider] = cb.State()
	}

	return states
}

// Reset closes the breaker for a provider
func (r *BreakerRegistry) Reset(provider string) {
	r.Get(provider).RecordSuccess()
}
