package dispatch

import "errors"

// Sentinel errors for dispatch operations. Execution failures additionally
// surface the resilience package's sentinels (circuit open, rate limited,
// pool exhausted, timeout) through futures unchanged.
var (
	// ErrStopped is returned for requests still queued when the dispatcher
	// shuts down.
	ErrStopped = errors.New("dispatch: dispatcher stopped")

	// ErrNilRequest is returned by Submit for a nil request.
	ErrNilRequest = errors.New("dispatch: nil request")
)
