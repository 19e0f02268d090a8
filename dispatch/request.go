package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/dispatchops/queue"
)

// Kind identifies the shape of a request payload. The set is closed: every
// request carries exactly the fields its kind defines.
type Kind int

const (
	// KindConsult asks a named expert capability for guidance on a prompt.
	KindConsult Kind = iota
	// KindCompletion requests a raw text completion for a prompt.
	KindCompletion
	// KindEmbedding requests a vector embedding of the input text.
	KindEmbedding
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConsult:
		return "consult"
	case KindCompletion:
		return "completion"
	case KindEmbedding:
		return "embedding"
	default:
		return "unknown"
	}
}

// Request is one unit of work bound for the external compute service.
//
// Ownership: the queue owns a submitted request until it is dequeued, the
// dispatcher owns it for the duration of execution, and it is dead once its
// future resolves. Callers must not mutate a request after Submit.
type Request struct {
	// ID uniquely identifies the request. Assigned on Submit if empty.
	ID string

	// Kind selects the payload variant.
	Kind Kind

	// Priority orders the request in the backlog.
	Priority queue.Priority

	// Expert names the capability consulted. KindConsult only.
	Expert string

	// Prompt is the text sent to the service. KindConsult and KindCompletion.
	Prompt string

	// Input is the text to embed. KindEmbedding only.
	Input string

	// EstimatedCost is the expected cost in tokens, used for admission
	// control. Defaults to the dispatcher's DefaultCost.
	EstimatedCost float64

	// Deadline, when non-zero, bounds the request's total lifetime. An
	// expired request resolves with a timeout without invoking the service.
	Deadline time.Time

	// Retries counts how many times the caller has resubmitted this work.
	Retries int
}

// Result is the outcome of a successfully dispatched request.
type Result struct {
	Text      string
	CostUnits float64
}

// Future is a single-resolution promise for one submitted request. It
// resolves exactly once, with a result or a typed error, no matter which
// component fails.
type Future struct {
	mu       sync.Mutex
	resolved bool
	result   Result
	err      error
	done     chan struct{}
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(r Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return
	}
	f.resolved = true
	f.result = r
	close(f.done)
}

func (f *Future) reject(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return
	}
	f.resolved = true
	f.err = err
	close(f.done)
}

// Done returns a channel that is closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or the context ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.result, f.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// ResolvedFuture returns a future already resolved with the given outcome.
// It exists for Submitter implementations that answer without dispatching,
// such as fakes in tests.
func ResolvedFuture(res Result, err error) *Future {
	f := newFuture()
	if err != nil {
		f.reject(err)
	} else {
		f.resolve(res)
	}
	return f
}

// pending pairs a request with its future while it moves through the queue
// and the dispatcher.
type pending struct {
	req *Request
	fut *Future
}
