package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrRateLimited is returned when the adaptive limiter denies admission.
	ErrRateLimited = errors.New("resilience: rate limit exceeded")

	// ErrPoolExhausted is returned when no pool handle becomes available
	// within the acquire timeout.
	ErrPoolExhausted = errors.New("resilience: pool exhausted")

	// ErrPoolClosed is returned when acquiring from a destroyed pool.
	ErrPoolClosed = errors.New("resilience: pool is closed")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")
)
