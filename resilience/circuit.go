package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the dependency recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failures before opening the circuit.
	// Default: 5
	FailureThreshold int

	// ResetTimeout is how long to wait before attempting recovery.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// CallTimeout bounds each wrapped operation. An operation exceeding it
	// counts as a failure for state transitions but is reported as ErrTimeout.
	// Default: 30 seconds
	CallTimeout time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool
}

// CircuitBreaker implements the circuit breaker pattern with a bounded
// per-call timeout. While half-open, exactly one trial call is permitted;
// concurrent calls are rejected with ErrCircuitOpen.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu           sync.Mutex
	state        State
	failures     int
	lastFailure  time.Time
	lastSuccess  time.Time
	nextAttempt  time.Time
	halfOpenBusy bool
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs the operation through the circuit breaker. The operation is
// raced against CallTimeout; a timed-out operation counts toward the failure
// threshold but is returned as ErrTimeout rather than ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := cb.call(ctx, op)
	cb.afterRequest(err)
	return err
}

// call races the operation against the configured call timeout.
func (cb *CircuitBreaker) call(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.failures = 0
	cb.halfOpenBusy = false
}

// ForceOpen trips the circuit regardless of the failure count. The circuit
// behaves as if the threshold had just been breached.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = time.Now()
	cb.nextAttempt = cb.lastFailure.Add(cb.config.ResetTimeout)
	cb.transitionLocked(StateOpen)
}

// ForceClose closes the circuit and clears the failure count.
func (cb *CircuitBreaker) ForceClose() {
	cb.Reset()
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentStateLocked() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		// Single trial: reject everyone while the probe is in flight.
		if cb.halfOpenBusy {
			return ErrCircuitOpen
		}
		cb.halfOpenBusy = true
	}

	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := cb.config.IsFailure(err)
	now := time.Now()

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.failures++
			cb.lastFailure = now
			if cb.failures >= cb.config.FailureThreshold {
				cb.nextAttempt = now.Add(cb.config.ResetTimeout)
				cb.transitionLocked(StateOpen)
			}
		} else {
			cb.failures = 0
			cb.lastSuccess = now
		}

	case StateHalfOpen:
		cb.halfOpenBusy = false
		if isFailure {
			// Failed probe: back to open with a fresh reset deadline.
			cb.lastFailure = now
			cb.nextAttempt = now.Add(cb.config.ResetTimeout)
			cb.transitionLocked(StateOpen)
		} else {
			cb.failures = 0
			cb.lastSuccess = now
			cb.transitionLocked(StateClosed)
		}
	}
}

// currentStateLocked lazily flips open to half-open once the reset deadline
// has elapsed. There is no timer; the transition happens on observation.
func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && !time.Now().Before(cb.nextAttempt) {
		cb.halfOpenBusy = false
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(state State) {
	if cb.state == state {
		return
	}
	from := cb.state
	cb.state = state
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, state)
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:       cb.currentStateLocked(),
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
		LastSuccess: cb.lastSuccess,
		NextAttempt: cb.nextAttempt,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics. NextAttempt is
// only meaningful while the circuit is open and doubles as a retry-after hint.
type CircuitBreakerMetrics struct {
	State       State
	Failures    int
	LastFailure time.Time
	LastSuccess time.Time
	NextAttempt time.Time
}
