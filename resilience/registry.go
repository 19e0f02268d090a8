package resilience

import (
	"sort"
	"sync"
)

// BreakerRegistry holds one circuit breaker per protected dependency name.
// It replaces process-wide breaker globals: construct one registry at startup
// and pass it by reference to whatever needs dependency-scoped breakers.
type BreakerRegistry struct {
	defaults CircuitBreakerConfig

	mu       sync.Mutex
	onChange func(name string, from, to State)
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry. New breakers are constructed with
// the given config as defaults.
func NewBreakerRegistry(defaults CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		defaults: defaults,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// OnStateChange registers a hook invoked with the dependency name whenever a
// breaker constructed by this registry changes state. It composes with any
// OnStateChange in the defaults. Breakers constructed before the call do not
// carry the hook; set it before the first Get.
func (r *BreakerRegistry) OnStateChange(fn func(name string, from, to State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Get returns the breaker for the named dependency, constructing it lazily.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		config := r.defaults
		if hook := r.onChange; hook != nil {
			prev := config.OnStateChange
			config.OnStateChange = func(from, to State) {
				if prev != nil {
					prev(from, to)
				}
				hook(name, from, to)
			}
		}
		cb = NewCircuitBreaker(config)
		r.breakers[name] = cb
	}
	return cb
}

// Reset resets the named breaker to closed. It reports whether the breaker
// existed.
func (r *BreakerRegistry) Reset(name string) bool {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()

	if ok {
		cb.Reset()
	}
	return ok
}

// Remove drops the named breaker from the registry.
func (r *BreakerRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}

// Names returns the registered dependency names, sorted.
func (r *BreakerRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Metrics returns a snapshot of every registered breaker.
func (r *BreakerRegistry) Metrics() map[string]CircuitBreakerMetrics {
	r.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(r.breakers))
	for name, cb := range r.breakers {
		breakers[name] = cb
	}
	r.mu.Unlock()

	out := make(map[string]CircuitBreakerMetrics, len(breakers))
	for name, cb := range breakers {
		out[name] = cb.Metrics()
	}
	return out
}
