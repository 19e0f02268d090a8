package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// PoolConfig configures the resource pool.
type PoolConfig[T any] struct {
	// Size is the maximum number of handles the pool will create.
	// Default: 10
	Size int

	// AcquireTimeout is how long a queued acquirer waits for a handle
	// before failing with ErrPoolExhausted.
	// Default: 5 seconds
	AcquireTimeout time.Duration

	// Factory creates a new handle on demand. Required.
	Factory func(ctx context.Context) (T, error)

	// Destructor releases a handle's underlying resources. Optional.
	Destructor func(T) error
}

// AcquireResult carries the outcome of an asynchronous acquire.
type AcquireResult[T any] struct {
	Handle T
	Err    error
}

type waiter[T any] struct {
	ch    chan AcquireResult[T]
	timer *time.Timer
}

// Pool is a bounded pool of reusable handles. Handles are created lazily on
// first demand, never pre-warmed. When the pool is at capacity, acquirers
// queue FIFO; a released handle is handed directly to the longest waiter
// instead of taking an idle round-trip.
type Pool[T any] struct {
	config PoolConfig[T]

	mu      sync.Mutex
	idle    []T
	created int
	inUse   int
	waiters []*waiter[T]
	closed  bool
}

// NewPool creates a new pool. The factory is required.
func NewPool[T any](config PoolConfig[T]) (*Pool[T], error) {
	if config.Factory == nil {
		return nil, errors.New("resilience: pool factory is required")
	}
	// Apply defaults
	if config.Size <= 0 {
		config.Size = 10
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = 5 * time.Second
	}

	return &Pool[T]{config: config}, nil
}

// Acquire returns a handle, waiting up to AcquireTimeout for one to free up.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	ready, cancel := p.AcquireAsync(ctx)

	select {
	case res := <-ready:
		return res.Handle, res.Err
	case <-ctx.Done():
		cancel()
		var zero T
		return zero, ctx.Err()
	}
}

// AcquireAsync registers the caller's claim on a handle synchronously and
// returns a channel that delivers exactly one AcquireResult. Registration
// order determines handoff order, so callers that need FIFO fairness across
// several acquires can register them all before waiting on any. The cancel
// function abandons the claim; a handle delivered after cancellation is
// returned to the pool.
func (p *Pool[T]) AcquireAsync(ctx context.Context) (<-chan AcquireResult[T], func()) {
	ch := make(chan AcquireResult[T], 1)

	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		ch <- AcquireResult[T]{Err: ErrPoolClosed}
		return ch, func() {}
	}

	// Idle handle available: take it immediately.
	if n := len(p.idle); n > 0 {
		h := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.mu.Unlock()
		ch <- AcquireResult[T]{Handle: h}
		return ch, p.drainFunc(ch)
	}

	// Room to grow: construct a handle lazily.
	if p.created < p.config.Size {
		p.created++
		p.inUse++
		p.mu.Unlock()
		go func() {
			h, err := p.config.Factory(ctx)
			if err != nil {
				p.mu.Lock()
				p.created--
				p.inUse--
				p.mu.Unlock()
				ch <- AcquireResult[T]{Err: err}
				return
			}
			ch <- AcquireResult[T]{Handle: h}
		}()
		return ch, p.drainFunc(ch)
	}

	// At capacity: join the FIFO wait list.
	w := &waiter[T]{ch: ch}
	p.waiters = append(p.waiters, w)
	w.timer = time.AfterFunc(p.config.AcquireTimeout, func() {
		p.mu.Lock()
		removed := p.removeWaiterLocked(w)
		p.mu.Unlock()
		if removed {
			w.ch <- AcquireResult[T]{Err: ErrPoolExhausted}
		}
	})
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		removed := p.removeWaiterLocked(w)
		p.mu.Unlock()
		if removed {
			w.timer.Stop()
			return
		}
		// A result is already in flight; put any handle back.
		p.drainFunc(ch)()
	}
	return ch, cancel
}

// drainFunc returns a cancel function for claims whose result is guaranteed
// to arrive (idle grab, in-flight creation, or handoff). It awaits the result
// and returns any handle to the pool so an abandoned claim cannot strand one.
func (p *Pool[T]) drainFunc(ch chan AcquireResult[T]) func() {
	return func() {
		go func() {
			res := <-ch
			if res.Err == nil {
				p.Release(res.Handle)
			}
		}()
	}
}

func (p *Pool[T]) removeWaiterLocked(w *waiter[T]) bool {
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Release returns a handle to the pool. If acquirers are queued, the handle
// is handed directly to the longest waiter.
func (p *Pool[T]) Release(h T) {
	p.mu.Lock()

	if p.closed {
		p.created--
		p.inUse--
		d := p.config.Destructor
		p.mu.Unlock()
		if d != nil {
			_ = d(h)
		}
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		// Ownership transfers directly; inUse is unchanged.
		w.timer.Stop()
		w.ch <- AcquireResult[T]{Handle: h}
		return
	}

	p.inUse--
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

// Stats returns a snapshot of pool accounting.
// Invariant: Available+InUse == Created <= Size.
func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Available: len(p.idle),
		InUse:     p.inUse,
		Waiting:   len(p.waiters),
		Created:   p.created,
		Size:      p.config.Size,
	}
}

// Destroy closes the pool, rejects all queued acquirers with ErrPoolClosed,
// and drains idle handles through the destructor. Handles still in use are
// destroyed when released. Destroy is idempotent.
func (p *Pool[T]) Destroy() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.created -= len(idle)
	d := p.config.Destructor
	p.mu.Unlock()

	for _, w := range waiters {
		w.timer.Stop()
		w.ch <- AcquireResult[T]{Err: ErrPoolClosed}
	}

	var firstErr error
	for _, h := range idle {
		if d == nil {
			continue
		}
		if err := d(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PoolStats contains pool accounting.
type PoolStats struct {
	Available int
	InUse     int
	Waiting   int
	Created   int
	Size      int
}
