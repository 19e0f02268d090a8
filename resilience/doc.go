// Package resilience provides the failure-isolation and backpressure
// primitives of the dispatch layer.
//
// # Patterns
//
//   - Circuit Breaker: stops calling a failing dependency after a failure
//     threshold is reached, then probes recovery with a single trial call.
//     Every call is raced against a per-call timeout.
//
//   - Adaptive Limiter: sliding-window admission control over request count
//     and estimated cost. Sustained failures shrink the effective limits and
//     sustained success restores them, without external tuning.
//
//   - Pool: a bounded set of reusable handles to an external dependency,
//     created lazily and handed directly to queued acquirers on release.
//
//   - Breaker Registry: dependency-scoped breakers behind an explicit,
//     injectable registry instead of process-wide globals.
//
// # Usage
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    FailureThreshold: 5,
//	    ResetTimeout:     time.Minute,
//	    CallTimeout:      10 * time.Second,
//	})
//
//	limiter := resilience.NewAdaptiveLimiter(resilience.AdaptiveLimiterConfig{
//	    RequestsPerWindow: 60,
//	    CostPerWindow:     100000,
//	})
//
//	pool, err := resilience.NewPool(resilience.PoolConfig[*Conn]{
//	    Size:    4,
//	    Factory: dial,
//	})
//
//	if limiter.Admit(estimatedCost) {
//	    h, err := pool.Acquire(ctx)
//	    if err == nil {
//	        defer pool.Release(h)
//	        err = cb.Execute(ctx, func(ctx context.Context) error {
//	            return h.Call(ctx)
//	        })
//	    }
//	}
//
// None of the primitives share state with each other; each serializes its
// own mutations internally and is safe for concurrent use.
package resilience
