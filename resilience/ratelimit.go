package resilience

import (
	"sync"
	"time"
)

// AdaptiveLimiterConfig configures the adaptive limiter.
type AdaptiveLimiterConfig struct {
	// RequestsPerWindow is the number of admissions allowed per window.
	// Default: 60
	RequestsPerWindow int

	// CostPerWindow is the total cost (tokens) allowed per window.
	// Default: 100000
	CostPerWindow float64

	// BurstPerSecond caps admissions within the trailing burst window.
	// Default: 10
	BurstPerSecond int

	// Window is the trailing window over which requests and cost are counted.
	// Default: 60 seconds
	Window time.Duration

	// BurstWindow is the short trailing window for burst counting.
	// Default: 1 second
	BurstWindow time.Duration
}

// AdaptiveLimiter is a sliding-window admission controller over request count
// and estimated cost. Sustained failures shrink the effective limits
// (multiplier x0.8 after three consecutive failures, floor 0.3); a success
// after failures restores them (x1.1, ceiling 1.0). The limiter never blocks;
// callers decide whether to wait, requeue, or reject on denial.
type AdaptiveLimiter struct {
	config AdaptiveLimiterConfig

	mu            sync.Mutex
	admissions    []time.Time
	costs         []costEntry
	costSum       float64
	multiplier    float64
	failureStreak int
}

type costEntry struct {
	at   time.Time
	cost float64
}

const (
	multiplierFloor   = 0.3
	multiplierCeiling = 1.0
	backoffFactor     = 0.8
	recoveryFactor    = 1.1
	failureStreakTrip = 3
)

// NewAdaptiveLimiter creates a new adaptive limiter.
func NewAdaptiveLimiter(config AdaptiveLimiterConfig) *AdaptiveLimiter {
	// Apply defaults
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = 60
	}
	if config.CostPerWindow <= 0 {
		config.CostPerWindow = 100000
	}
	if config.BurstPerSecond <= 0 {
		config.BurstPerSecond = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = time.Second
	}

	return &AdaptiveLimiter{
		config:     config,
		multiplier: multiplierCeiling,
	}
}

// Admit reports whether a request with the given estimated cost may proceed
// now, and records the admission timestamp if so. Denial has no side effects.
func (al *AdaptiveLimiter) Admit(estimatedCost float64) bool {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := time.Now()
	al.sweepLocked(now)

	requestLimit := float64(al.config.RequestsPerWindow) * al.multiplier
	costLimit := al.config.CostPerWindow * al.multiplier
	burstLimit := float64(al.config.BurstPerSecond) * al.multiplier

	if float64(len(al.admissions)+1) > requestLimit {
		return false
	}
	if al.costSum+estimatedCost > costLimit {
		return false
	}
	if float64(al.burstCountLocked(now)+1) > burstLimit {
		return false
	}

	al.admissions = append(al.admissions, now)
	return true
}

// Record records the actual cost of a completed request. A success after one
// or more failures nudges the multiplier back toward 1.0 and clears the
// failure streak.
func (al *AdaptiveLimiter) Record(cost float64) {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := time.Now()
	al.sweepLocked(now)
	al.costs = append(al.costs, costEntry{at: now, cost: cost})
	al.costSum += cost

	if al.failureStreak > 0 {
		al.failureStreak = 0
		al.multiplier *= recoveryFactor
		if al.multiplier > multiplierCeiling {
			al.multiplier = multiplierCeiling
		}
	}
}

// RecordFailure records a failed request. Once the streak reaches three
// consecutive failures, every further failure shrinks the multiplier.
func (al *AdaptiveLimiter) RecordFailure() {
	al.mu.Lock()
	defer al.mu.Unlock()

	al.failureStreak++
	if al.failureStreak >= failureStreakTrip {
		al.multiplier *= backoffFactor
		if al.multiplier < multiplierFloor {
			al.multiplier = multiplierFloor
		}
	}
}

// EstimatedWait returns how long until the oldest window entry expires, as a
// hint for when admission is likely to succeed again. Zero means admission
// would not be blocked by the request window.
func (al *AdaptiveLimiter) EstimatedWait() time.Duration {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := time.Now()
	al.sweepLocked(now)

	requestLimit := float64(al.config.RequestsPerWindow) * al.multiplier
	if float64(len(al.admissions)+1) <= requestLimit && al.costSum < al.config.CostPerWindow*al.multiplier {
		return 0
	}

	var oldest time.Time
	if len(al.admissions) > 0 {
		oldest = al.admissions[0]
	}
	if len(al.costs) > 0 && (oldest.IsZero() || al.costs[0].at.Before(oldest)) {
		oldest = al.costs[0].at
	}
	if oldest.IsZero() {
		return 0
	}

	wait := oldest.Add(al.config.Window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// sweepLocked evicts entries older than the trailing window. Eviction is
// lazy: it runs on every call rather than on a timer.
func (al *AdaptiveLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-al.config.Window)

	i := 0
	for i < len(al.admissions) && al.admissions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		al.admissions = append(al.admissions[:0], al.admissions[i:]...)
	}

	j := 0
	for j < len(al.costs) && al.costs[j].at.Before(cutoff) {
		al.costSum -= al.costs[j].cost
		j++
	}
	if j > 0 {
		al.costs = append(al.costs[:0], al.costs[j:]...)
	}
	if len(al.costs) == 0 {
		al.costSum = 0
	}
}

func (al *AdaptiveLimiter) burstCountLocked(now time.Time) int {
	cutoff := now.Add(-al.config.BurstWindow)
	count := 0
	for i := len(al.admissions) - 1; i >= 0; i-- {
		if al.admissions[i].Before(cutoff) {
			break
		}
		count++
	}
	return count
}

// Metrics returns current limiter metrics.
func (al *AdaptiveLimiter) Metrics() AdaptiveLimiterMetrics {
	al.mu.Lock()
	defer al.mu.Unlock()

	now := time.Now()
	al.sweepLocked(now)

	return AdaptiveLimiterMetrics{
		RequestsInWindow: len(al.admissions),
		CostInWindow:     al.costSum,
		BurstCount:       al.burstCountLocked(now),
		Multiplier:       al.multiplier,
		FailureStreak:    al.failureStreak,
	}
}

// AdaptiveLimiterMetrics contains limiter statistics.
type AdaptiveLimiterMetrics struct {
	RequestsInWindow int
	CostInWindow     float64
	BurstCount       int
	Multiplier       float64
	FailureStreak    int
}
