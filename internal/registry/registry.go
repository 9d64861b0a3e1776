// Package registry maps backend names to adapters. The map is built at
// startup and read-mostly afterwards; mutation stays safe under concurrent
// lookups.
package registry

import (
	"sync"

	"github.com/modelgate/modelgate/internal/backends"
)

// Registry manages backend adapter instances by name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]backends.Backend
}

func New() *Registry {
	return &Registry{backends: make(map[string]backends.Backend)}
}

// Register adds a backend under its name, silently replacing any existing
// entry with the same name.
func (r *Registry) Register(b backends.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name()] = b
}

// Unregister removes a backend by name and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.backends[name]
	delete(r.backends, name)
	return ok
}

// Has reports whether a backend with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[name]
	return ok
}

// Get retrieves a backend by name.
func (r *Registry) Get(name string) (backends.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// List returns the registered backend names in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}
