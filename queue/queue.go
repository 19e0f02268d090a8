package queue

import (
	"sync"
	"time"
)

// Priority orders requests in the backlog.
type Priority int

const (
	// PriorityLow is served only when nothing else is queued.
	PriorityLow Priority = iota
	// PriorityNormal is the default priority.
	PriorityNormal
	// PriorityHigh jumps ahead of normal traffic.
	PriorityHigh
	// PriorityCritical is served before everything else.
	PriorityCritical

	numPriorities = 4
)

// String returns the string representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Config configures the priority queue.
type Config struct {
	// WaitSamples bounds the rolling average over dequeue wait times.
	// Default: 100
	WaitSamples int

	// OnExpire is called (outside the queue lock) for each payload whose
	// deadline elapsed before it was dequeued. Optional.
	OnExpire func(payload any)
}

type entry struct {
	payload    any
	deadline   time.Time
	enqueuedAt time.Time
}

// PriorityQueue is an in-memory, priority-ordered backlog. Dequeue scans from
// critical down to low and pops the head of the first non-empty level: strict
// priority with per-level FIFO. There is deliberately no aging, so low
// priority work can starve under sustained high-priority load.
type PriorityQueue struct {
	config Config

	mu          sync.Mutex
	levels      [numPriorities][]entry
	processed   int64
	requeued    int64
	failed      int64
	waitSamples []time.Duration
	waitNext    int
	startedAt   time.Time
}

// New creates a new priority queue.
func New(config Config) *PriorityQueue {
	// Apply defaults
	if config.WaitSamples <= 0 {
		config.WaitSamples = 100
	}

	return &PriorityQueue{
		config:    config,
		startedAt: time.Now(),
	}
}

// Enqueue adds a payload at the tail of its priority level. A zero deadline
// means the payload never expires in the queue.
func (q *PriorityQueue) Enqueue(payload any, p Priority, deadline time.Time) {
	q.push(payload, p, deadline)
}

// Requeue re-adds a payload at the tail of its priority level, behind newer
// same-priority admissions. The wait clock restarts; requeues are treated as
// fresh arrivals for metrics purposes.
func (q *PriorityQueue) Requeue(payload any, p Priority, deadline time.Time) {
	q.mu.Lock()
	q.requeued++
	q.mu.Unlock()
	q.push(payload, p, deadline)
}

func (q *PriorityQueue) push(payload any, p Priority, deadline time.Time) {
	if p < PriorityLow || p > PriorityCritical {
		p = PriorityNormal
	}

	q.mu.Lock()
	q.levels[p] = append(q.levels[p], entry{
		payload:    payload,
		deadline:   deadline,
		enqueuedAt: time.Now(),
	})
	q.mu.Unlock()
}

// Dequeue pops the highest-priority payload, or returns false when empty.
// Expired payloads are dropped and reported through OnExpire.
func (q *PriorityQueue) Dequeue() (any, bool) {
	batch := q.DequeueBatch(1)
	if len(batch) == 0 {
		return nil, false
	}
	return batch[0], true
}

// DequeueBatch pops up to max payloads in priority order.
func (q *PriorityQueue) DequeueBatch(max int) []any {
	if max <= 0 {
		return nil
	}

	now := time.Now()
	var out []any
	var expired []any

	q.mu.Lock()
	for p := PriorityCritical; p >= PriorityLow && len(out) < max; p-- {
		level := q.levels[p]
		i := 0
		for ; i < len(level) && len(out) < max; i++ {
			e := level[i]
			if !e.deadline.IsZero() && now.After(e.deadline) {
				q.failed++
				expired = append(expired, e.payload)
				continue
			}
			q.processed++
			q.recordWaitLocked(now.Sub(e.enqueuedAt))
			out = append(out, e.payload)
		}
		q.levels[p] = append(level[:0:0], level[i:]...)
	}
	q.mu.Unlock()

	if q.config.OnExpire != nil {
		for _, payload := range expired {
			q.config.OnExpire(payload)
		}
	}
	return out
}

func (q *PriorityQueue) recordWaitLocked(wait time.Duration) {
	if len(q.waitSamples) < q.config.WaitSamples {
		q.waitSamples = append(q.waitSamples, wait)
		return
	}
	q.waitSamples[q.waitNext] = wait
	q.waitNext = (q.waitNext + 1) % q.config.WaitSamples
}

// Len returns the number of queued payloads, across all priorities.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, level := range q.levels {
		total += len(level)
	}
	return total
}

// LenPriority returns the number of queued payloads at one priority.
func (q *PriorityQueue) LenPriority(p Priority) int {
	if p < PriorityLow || p > PriorityCritical {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.levels[p])
}

// Metrics returns a snapshot of queue counters. Counters are mutated only by
// the queue itself.
func (q *PriorityQueue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	size := 0
	for _, level := range q.levels {
		size += len(level)
	}

	var avg time.Duration
	if len(q.waitSamples) > 0 {
		var sum time.Duration
		for _, w := range q.waitSamples {
			sum += w
		}
		avg = sum / time.Duration(len(q.waitSamples))
	}

	elapsed := time.Since(q.startedAt).Seconds()
	var throughput float64
	if elapsed > 0 {
		throughput = float64(q.processed) / elapsed
	}

	return Metrics{
		Size:       size,
		Processed:  q.processed,
		Requeued:   q.requeued,
		Failed:     q.failed,
		AvgWait:    avg,
		Throughput: throughput,
	}
}

// Metrics contains queue statistics. Processed counts dequeues, so a payload
// that cycles through Requeue is counted once per pass; Requeued records how
// many such extra passes happened. Throughput is approximate: processed count
// over elapsed time since construction, per second.
type Metrics struct {
	Size       int
	Processed  int64
	Requeued   int64
	Failed     int64
	AvgWait    time.Duration
	Throughput float64
}
