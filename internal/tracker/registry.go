package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a new Adapter instance.
type Factory func() Adapter

// Registry manages the registered tracker backends.
// Backends register themselves at init time and are selected by the
// --backend flag.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Factory
}

// globalRegistry is the default registry used by Register and Get.
var globalRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Factory)}
}

// IsRegistered checks if a backend with the given name is registered
// in the global registry.
func IsRegistered(name string) bool {
	return globalRegistry.IsRegistered(name)
}

// Register adds a backend factory to the global registry.
// Called from the backend packages' init functions.
// The name should be lowercase (e.g., "github", "jira", "bugzilla").
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// Get retrieves a backend factory from the global registry.
// Returns nil if no backend with that name is registered.
func Get(name string) Factory {
	return globalRegistry.Get(name)
}

// List returns the names of all registered backends.
func List() []string {
	return globalRegistry.List()
}

// New creates a new instance of the named backend.
// Returns an error if no backend with that name is registered.
func New(name string) (Adapter, error) {
	return globalRegistry.New(name)
}

// Register adds a backend factory to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// Get retrieves a backend factory from this registry.
func (r *Registry) Get(name string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[name]
}

// List returns the names of all registered backends, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates a new instance of the named backend.
func (r *Registry) New(name string) (Adapter, error) {
	factory := r.Get(name)
	if factory == nil {
		available := r.List()
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, available)
	}
	return factory(), nil
}

// IsRegistered checks if a backend with the given name is registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.backends[name]
	return ok
}

// Clear removes all registered backends. Used by tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = make(map[string]Factory)
}
