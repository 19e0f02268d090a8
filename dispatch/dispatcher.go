package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/dispatchops/events"
	"github.com/jonwraymond/dispatchops/observe"
	"github.com/jonwraymond/dispatchops/queue"
	"github.com/jonwraymond/dispatchops/resilience"
)

// Invoker is one connection/handle to the external compute service.
//
// Contract:
// - Errors: Invoke may fail with transient or permanent errors; it must
//   honor ctx cancellation since latency is otherwise unbounded.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (Result, error)
}

// Config configures the dispatcher.
type Config struct {
	// PollInterval is how often the drain loop polls the queue.
	// Default: 50ms
	PollInterval time.Duration

	// BatchSize bounds concurrent in-flight calls per tick.
	// Default: 5
	BatchSize int

	// BreakerName is the dependency name guarding the compute service.
	// Default: "compute"
	BreakerName string

	// DefaultCost is the admission cost for requests that do not estimate
	// their own. Default: 1
	DefaultCost float64

	// Limiter configures the adaptive admission controller.
	Limiter resilience.AdaptiveLimiterConfig

	// Breaker configures breakers constructed by the registry. Ignored when
	// Breakers is supplied.
	Breaker resilience.CircuitBreakerConfig

	// Pool configures the invoker pool. Pool.Factory is required.
	Pool resilience.PoolConfig[Invoker]

	// WaitSamples bounds the queue's rolling wait-time average.
	WaitSamples int

	// Breakers is an optional shared registry, for callers that scope
	// breakers across several dispatchers.
	Breakers *resilience.BreakerRegistry

	// Logger, Metrics, Tracer and Bus are optional observability sinks.
	Logger  observe.Logger
	Metrics observe.Metrics
	Tracer  observe.Tracer
	Bus     *events.Bus
}

// Dispatcher pulls batches from the priority queue, consults the adaptive
// limiter, acquires a pooled invoker, and executes through the circuit
// breaker. Every submitted request resolves exactly once.
type Dispatcher struct {
	config   Config
	queue    *queue.PriorityQueue
	limiter  *resilience.AdaptiveLimiter
	pool     *resilience.Pool[Invoker]
	breakers *resilience.BreakerRegistry
	logger   observe.Logger
	metrics  observe.Metrics
	tracer   observe.Tracer
	bus      *events.Bus

	mu      sync.Mutex
	running bool
	stopped bool
	stop    context.CancelFunc
	done    chan struct{}
}

// New creates a dispatcher. The pool factory is required.
func New(config Config) (*Dispatcher, error) {
	// Apply defaults
	if config.PollInterval <= 0 {
		config.PollInterval = 50 * time.Millisecond
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.BreakerName == "" {
		config.BreakerName = "compute"
	}
	if config.DefaultCost <= 0 {
		config.DefaultCost = 1
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	if config.Tracer == nil {
		config.Tracer = observe.NopTracer()
	}

	pool, err := resilience.NewPool(config.Pool)
	if err != nil {
		return nil, err
	}

	breakers := config.Breakers
	if breakers == nil {
		// A registry owned by this dispatcher announces breaker transitions
		// on the bus. A shared registry is left untouched; its owner decides
		// who observes state changes.
		breakers = resilience.NewBreakerRegistry(config.Breaker)
		bus := config.Bus
		breakers.OnStateChange(func(name string, from, to resilience.State) {
			bus.Publish(events.New(events.TypeCircuitChanged, map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}))
		})
	}

	d := &Dispatcher{
		config:   config,
		limiter:  resilience.NewAdaptiveLimiter(config.Limiter),
		pool:     pool,
		breakers: breakers,
		logger:   config.Logger.WithComponent("dispatcher"),
		metrics:  config.Metrics,
		tracer:   config.Tracer,
		bus:      config.Bus,
	}
	d.queue = queue.New(queue.Config{
		WaitSamples: config.WaitSamples,
		OnExpire:    d.expire,
	})
	return d, nil
}

// Submit enqueues a request and returns its future. Submit never blocks on
// the external service; resolution happens asynchronously. After Stop every
// submission is rejected with ErrStopped.
func (d *Dispatcher) Submit(ctx context.Context, req *Request) *Future {
	fut := newFuture()
	if req == nil {
		fut.reject(ErrNilRequest)
		return fut
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.EstimatedCost <= 0 {
		req.EstimatedCost = d.config.DefaultCost
	}

	// Enqueue under the lock: anything enqueued before Stop marks the
	// dispatcher stopped is caught by Stop's final queue drain.
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		fut.reject(ErrStopped)
		return fut
	}
	d.queue.Enqueue(&pending{req: req, fut: fut}, req.Priority, req.Deadline)
	d.mu.Unlock()

	d.bus.Publish(events.New(events.TypeRequestQueued, map[string]any{
		"request_id": req.ID,
		"kind":       req.Kind.String(),
		"priority":   req.Priority.String(),
	}))
	d.logger.Debug(ctx, "request queued",
		observe.Field{Key: "request_id", Value: req.ID},
		observe.Field{Key: "kind", Value: req.Kind.String()},
		observe.Field{Key: "priority", Value: req.Priority.String()},
	)
	return fut
}

// Start launches the drain loop. It is a no-op if already running or
// already stopped.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.stopped {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.stop = cancel
	d.done = make(chan struct{})
	go d.run(runCtx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain pulls one batch and fans it out. Pool claims are registered in
// priority order before any goroutine runs, so a small pool serves the
// batch strictly by priority.
func (d *Dispatcher) drain(ctx context.Context) {
	items := d.queue.DequeueBatch(d.config.BatchSize)
	if len(items) == 0 {
		return
	}

	var g errgroup.Group
	now := time.Now()

	for _, item := range items {
		p, ok := item.(*pending)
		if !ok {
			continue
		}
		req := p.req

		if !req.Deadline.IsZero() && now.After(req.Deadline) {
			d.resolveErr(ctx, p, fmt.Errorf("%w: deadline exceeded before dispatch", resilience.ErrTimeout))
			continue
		}

		if !d.limiter.Admit(req.EstimatedCost) {
			if wait := d.limiter.EstimatedWait(); wait > 0 && !req.Deadline.IsZero() && now.Add(wait).After(req.Deadline) {
				// Admission cannot happen before the deadline; fail now
				// rather than churn through requeues.
				d.resolveErr(ctx, p, fmt.Errorf("%w: estimated wait %s exceeds deadline",
					resilience.ErrRateLimited, wait.Round(time.Millisecond)))
				continue
			}
			// Denied requests rejoin the tail of their priority level. Under
			// sustained throttling they may be delayed indefinitely.
			d.queue.Requeue(p, req.Priority, req.Deadline)
			d.bus.Publish(events.New(events.TypeRequestRequeued, map[string]any{
				"request_id": req.ID,
				"wait_hint":  d.limiter.EstimatedWait().String(),
			}))
			continue
		}

		ready, abandon := d.pool.AcquireAsync(ctx)
		g.Go(func() error {
			d.execute(ctx, p, ready, abandon)
			return nil
		})
	}

	_ = g.Wait()
}

func (d *Dispatcher) execute(ctx context.Context, p *pending, ready <-chan resilience.AcquireResult[Invoker], abandon func()) {
	req := p.req
	meta := observe.RequestMeta{ID: req.ID, Kind: req.Kind.String(), Priority: req.Priority.String()}
	start := time.Now()
	ctx, span := d.tracer.StartSpan(ctx, meta)

	var acquired resilience.AcquireResult[Invoker]
	select {
	case acquired = <-ready:
	case <-ctx.Done():
		abandon()
		d.finish(ctx, p, meta, span, start, Result{}, ctx.Err())
		return
	}
	if acquired.Err != nil {
		d.finish(ctx, p, meta, span, start, Result{}, acquired.Err)
		return
	}
	inv := acquired.Handle
	defer d.pool.Release(inv)

	// The handle wait may have consumed the whole deadline.
	if !req.Deadline.IsZero() && time.Now().After(req.Deadline) {
		d.finish(ctx, p, meta, span, start, Result{}, fmt.Errorf("%w: deadline exceeded waiting for a handle", resilience.ErrTimeout))
		return
	}

	var out Result
	br := d.breakers.Get(d.config.BreakerName)
	err := br.Execute(ctx, func(ctx context.Context) error {
		r, err := inv.Invoke(ctx, req)
		if err == nil {
			out = r
		}
		return err
	})

	switch {
	case err == nil:
		cost := out.CostUnits
		if cost <= 0 {
			cost = req.EstimatedCost
		}
		d.limiter.Record(cost)
	case errors.Is(err, resilience.ErrCircuitOpen):
		// The service was never called; give the caller a retry hint
		// instead of counting a failure against the limiter.
		if next := br.Metrics().NextAttempt; !next.IsZero() {
			err = fmt.Errorf("%w: retry after %s", resilience.ErrCircuitOpen,
				time.Until(next).Round(time.Millisecond))
		}
	default:
		d.limiter.RecordFailure()
	}

	d.finish(ctx, p, meta, span, start, out, err)
}

// finish resolves the future exactly once and emits telemetry for the
// execution attempt.
func (d *Dispatcher) finish(ctx context.Context, p *pending, meta observe.RequestMeta, span trace.Span, start time.Time, res Result, err error) {
	d.tracer.EndSpan(span, err)
	d.metrics.RecordDispatch(ctx, meta, time.Since(start), res.CostUnits, err)

	if err != nil {
		p.fut.reject(err)
		d.bus.Publish(events.New(events.TypeRequestFailed, map[string]any{
			"request_id": p.req.ID,
			"error":      err.Error(),
		}))
		d.logger.Warn(ctx, "request failed",
			observe.Field{Key: "request_id", Value: p.req.ID},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	p.fut.resolve(res)
	d.bus.Publish(events.New(events.TypeRequestResolved, map[string]any{
		"request_id": p.req.ID,
		"cost_units": res.CostUnits,
	}))
	d.logger.Debug(ctx, "request resolved",
		observe.Field{Key: "request_id", Value: p.req.ID},
		observe.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()},
	)
}

// resolveErr rejects a request that never reached execution.
func (d *Dispatcher) resolveErr(ctx context.Context, p *pending, err error) {
	meta := observe.RequestMeta{ID: p.req.ID, Kind: p.req.Kind.String(), Priority: p.req.Priority.String()}
	d.metrics.RecordDispatch(ctx, meta, 0, 0, err)

	p.fut.reject(err)
	d.bus.Publish(events.New(events.TypeRequestFailed, map[string]any{
		"request_id": p.req.ID,
		"error":      err.Error(),
	}))
	d.logger.Warn(ctx, "request rejected",
		observe.Field{Key: "request_id", Value: p.req.ID},
		observe.Field{Key: "error", Value: err.Error()},
	)
}

// expire handles payloads the queue dropped at their deadline.
func (d *Dispatcher) expire(payload any) {
	p, ok := payload.(*pending)
	if !ok {
		return
	}
	d.resolveErr(context.Background(), p, fmt.Errorf("%w: deadline exceeded in queue", resilience.ErrTimeout))
}

// Stop halts the drain loop, rejects everything still queued with ErrStopped,
// and destroys the pool. In-flight executions finish first. Later Submit
// calls are rejected with ErrStopped; a stopped dispatcher cannot restart.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	running := d.running
	d.running = false
	stop := d.stop
	done := d.done
	d.mu.Unlock()

	if running {
		stop()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		item, ok := d.queue.Dequeue()
		if !ok {
			break
		}
		if p, ok := item.(*pending); ok {
			d.resolveErr(ctx, p, ErrStopped)
		}
	}

	return d.pool.Destroy()
}

// Metrics contains a snapshot across all dispatcher components.
type Metrics struct {
	Queue    queue.Metrics
	Limiter  resilience.AdaptiveLimiterMetrics
	Pool     resilience.PoolStats
	Breakers map[string]resilience.CircuitBreakerMetrics
}

// Metrics returns a combined snapshot of the queue, limiter, pool and
// breakers.
func (d *Dispatcher) Metrics() Metrics {
	return Metrics{
		Queue:    d.queue.Metrics(),
		Limiter:  d.limiter.Metrics(),
		Pool:     d.pool.Stats(),
		Breakers: d.breakers.Metrics(),
	}
}

// PoolStats returns the invoker pool's accounting snapshot.
func (d *Dispatcher) PoolStats() resilience.PoolStats {
	return d.pool.Stats()
}
