package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/dispatchops/queue"
	"github.com/jonwraymond/dispatchops/resilience"
)

// BreakerChecker reports on the circuit breakers guarding external
// dependencies. Any open circuit makes the component unhealthy; a half-open
// circuit (probe in progress) is degraded.
type BreakerChecker struct {
	name     string
	breakers *resilience.BreakerRegistry
}

// NewBreakerChecker creates a checker over the given registry.
func NewBreakerChecker(name string, breakers *resilience.BreakerRegistry) *BreakerChecker {
	return &BreakerChecker{name: name, breakers: breakers}
}

// Name returns the name of this checker.
func (c *BreakerChecker) Name() string { return c.name }

// Check inspects every registered breaker.
func (c *BreakerChecker) Check(ctx context.Context) Result {
	metrics := c.breakers.Metrics()

	details := make(map[string]any, len(metrics))
	var open, halfOpen []string
	for name, m := range metrics {
		details[name] = map[string]any{
			"state":    m.State.String(),
			"failures": m.Failures,
		}
		switch m.State {
		case resilience.StateOpen:
			open = append(open, name)
		case resilience.StateHalfOpen:
			halfOpen = append(halfOpen, name)
		}
	}

	switch {
	case len(open) > 0:
		return Unhealthy(fmt.Sprintf("%d circuit(s) open", len(open)), nil).WithDetails(details)
	case len(halfOpen) > 0:
		return Degraded(fmt.Sprintf("%d circuit(s) probing recovery", len(halfOpen))).WithDetails(details)
	default:
		return Healthy("all circuits closed").WithDetails(details)
	}
}

// PoolChecker reports on a resource pool through its stats snapshot. A fully
// used pool with queued acquirers is degraded; a destroyed or zero-capacity
// pool is unhealthy.
type PoolChecker struct {
	name  string
	stats func() resilience.PoolStats
}

// NewPoolChecker creates a checker fed by the given stats function, typically
// Pool.Stats or Dispatcher.PoolStats.
func NewPoolChecker(name string, stats func() resilience.PoolStats) *PoolChecker {
	return &PoolChecker{name: name, stats: stats}
}

// Name returns the name of this checker.
func (c *PoolChecker) Name() string { return c.name }

// Check inspects the pool accounting.
func (c *PoolChecker) Check(ctx context.Context) Result {
	s := c.stats()
	details := map[string]any{
		"available": s.Available,
		"in_use":    s.InUse,
		"waiting":   s.Waiting,
		"created":   s.Created,
		"size":      s.Size,
	}

	switch {
	case s.Size <= 0:
		return Unhealthy("pool has no capacity", nil).WithDetails(details)
	case s.InUse >= s.Size && s.Waiting > 0:
		return Degraded(fmt.Sprintf("pool saturated, %d waiting", s.Waiting)).WithDetails(details)
	default:
		return Healthy("pool has capacity").WithDetails(details)
	}
}

// QueueChecker reports on backlog depth and staleness. Depth at or above the
// degraded threshold marks the component degraded.
type QueueChecker struct {
	name          string
	metrics       func() queue.Metrics
	degradedDepth int
	degradedWait  time.Duration
}

// NewQueueChecker creates a checker fed by the queue's metrics snapshot.
// degradedDepth and degradedWait of zero disable their thresholds.
func NewQueueChecker(name string, metrics func() queue.Metrics, degradedDepth int, degradedWait time.Duration) *QueueChecker {
	return &QueueChecker{
		name:          name,
		metrics:       metrics,
		degradedDepth: degradedDepth,
		degradedWait:  degradedWait,
	}
}

// Name returns the name of this checker.
func (c *QueueChecker) Name() string { return c.name }

// Check inspects the queue metrics.
func (c *QueueChecker) Check(ctx context.Context) Result {
	m := c.metrics()
	details := map[string]any{
		"size":       m.Size,
		"processed":  m.Processed,
		"failed":     m.Failed,
		"avg_wait":   m.AvgWait.String(),
		"throughput": m.Throughput,
	}

	switch {
	case c.degradedDepth > 0 && m.Size >= c.degradedDepth:
		return Degraded(fmt.Sprintf("backlog depth %d", m.Size)).WithDetails(details)
	case c.degradedWait > 0 && m.AvgWait >= c.degradedWait:
		return Degraded(fmt.Sprintf("average wait %s", m.AvgWait)).WithDetails(details)
	default:
		return Healthy("backlog nominal").WithDetails(details)
	}
}
