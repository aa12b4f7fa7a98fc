package store

import (
	"sort"
	"sync"
)

// Registry holds the names of logical collections sharing a table.
// The stream package uses it to route change events.
type Registry struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]string),
	}
}

// Register records a collection name with its kind (e.g. "stack").
// Registering a name again replaces its kind.
func (r *Registry) Register(name, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = kind
}

// Has returns true if the collection name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

// KindOf returns the registered kind, or "" if name is unknown.
func (r *Registry) KindOf(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[name]
}

// Names returns all registered collection names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
