package risk

import "sync"

// Registry is an ordered, mutable collection of risk factors.
// It is instance-scoped: construct one per engine (or per tenant, or per
// test) instead of sharing a process-wide set.
type Registry struct {
	mu      sync.RWMutex
	factors []Factor
}

// NewRegistry creates a registry with the given factors, in order.
func NewRegistry(factors ...Factor) *Registry {
	r := &Registry{}
	for _, f := range factors {
		r.Add(f)
	}
	return r
}

// Add appends a factor. If a factor with the same id already exists it is
// replaced in place, preserving its position in the evaluation order.
func (r *Registry) Add(f Factor) {
	if f == nil || f.ID() == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.factors {
		if existing.ID() == f.ID() {
			r.factors[i] = f
			return
		}
	}
	r.factors = append(r.factors, f)
}

// Remove deletes the factor with the given id. Returns true if it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, f := range r.factors {
		if f.ID() == id {
			r.factors = append(r.factors[:i], r.factors[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the factor with the given id, or nil.
func (r *Registry) Get(id string) Factor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.factors {
		if f.ID() == id {
			return f
		}
	}
	return nil
}

// Factors returns a snapshot of the registered factors in order.
func (r *Registry) Factors() []Factor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Factor, len(r.factors))
	copy(out, r.factors)
	return out
}

// Len returns the number of registered factors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factors)
}
