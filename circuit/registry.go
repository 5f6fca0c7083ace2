package circuit

import (
	"sort"
	"sync"

	"github.com/GriffinCanCode/relay/health"
)

// Listener observes breaker state transitions across a registry
type Listener func(name string, from State, to State)

// Registry manages one breaker per service name. All breakers created
// through a registry share its transition listeners.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	listeners []Listener
}

// NewRegistry creates an empty breaker registry
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// GetOrCreate returns the breaker for a service, creating it with the given
// configuration on first use. The configuration is ignored for an existing
// breaker; use UpdateConfig on the breaker to change it.
func (r *Registry) GetOrCreate(name string, config Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock
	if b, ok := r.breakers[name]; ok {
		return b
	}

	b = New(name, config, WithOnStateChange(r.notify))
	r.breakers[name] = b
	return b
}

// Get returns the breaker for a service if it exists
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.breakers[name]
	return b, ok
}

// Names returns the registered breaker names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe registers a listener for state transitions of all breakers in
// the registry. Listeners run on their own goroutines; a panicking listener
// is contained and does not affect the breaker.
func (r *Registry) Subscribe(l Listener) {
	if l == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, l)
}

// ResetAll forces every registered breaker closed
func (r *Registry) ResetAll() {
	for _, b := range r.snapshot() {
		b.Reset()
	}
}

// ResetAllStats zeroes the counters of every registered breaker
func (r *Registry) ResetAllStats() {
	for _, b := range r.snapshot() {
		b.ResetStats()
	}
}

// HealthCheck reports the state of every registered breaker
func (r *Registry) HealthCheck() []health.Status {
	breakers := r.snapshot()
	statuses := make([]health.Status, 0, len(breakers))
	for _, b := range breakers {
		statuses = append(statuses, b.HealthCheck())
	}
	return statuses
}

// snapshot returns the registered breakers ordered by name
func (r *Registry) snapshot() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)

	breakers := make([]*Breaker, 0, len(names))
	for _, name := range names {
		breakers = append(breakers, r.breakers[name])
	}
	return breakers
}

// notify fans a transition out to all listeners. The breaker lock is held
// by the caller, so listeners run on separate goroutines and may safely
// read breaker state.
func (r *Registry) notify(name string, from State, to State) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		go func(l Listener) {
			defer func() {
				_ = recover()
			}()
			l(name, from, to)
		}(l)
	}
}
