// Package provider implements capability-based backend selection shared by
// the location and geocoding roles.
//
// A [Registry] is an ordered catalog of factories; order is fallback
// priority. A [Selector] picks one instance per role from its registry and
// remembers it as that role's default.
package provider

import "sync"

// Factory describes one backend type. Available is the capability probe:
// it must be cheap, side-effect free and never perform network I/O.
type Factory[T any] struct {
	Name      string
	Available func() bool
	New       func() T
}

// concrete reports whether the entry can be instantiated. Entries without
// a probe or constructor act as base markers and are never selected.
func (f Factory[T]) concrete() bool {
	return f.Available != nil && f.New != nil
}

// Registry is an ordered name → factory catalog, safe for concurrent use.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries []Factory[T]
}

// NewRegistry creates a registry holding factories in the given order.
func NewRegistry[T any](factories ...Factory[T]) *Registry[T] {
	r := &Registry[T]{}
	for _, f := range factories {
		r.Register(f)
	}
	return r
}

// Register appends f, or replaces an entry of the same name in place so the
// original priority is kept.
func (r *Registry[T]) Register(f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].Name == f.Name {
			r.entries[i] = f
			return
		}
	}
	r.entries = append(r.entries, f)
}

// Lookup returns the factory registered under name.
func (r *Registry[T]) Lookup(name string) (Factory[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.entries {
		if f.Name == name {
			return f, true
		}
	}
	return Factory[T]{}, false
}

// Entries returns a copy of the factories in priority order.
func (r *Registry[T]) Entries() []Factory[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Factory[T], len(r.entries))
	copy(out, r.entries)
	return out
}

// Names lists registered names in priority order.
func (r *Registry[T]) Names() []string {
	entries := r.Entries()
	names := make([]string, len(entries))
	for i, f := range entries {
		names[i] = f.Name
	}
	return names
}
