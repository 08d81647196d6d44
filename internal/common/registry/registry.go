// Package registry provides a generic, thread-safe table of named factories.
//
// The cache manager keeps one of these keyed by driver name so that new
// drivers can be plugged in without touching the manager itself:
//
//	drivers := registry.New[cache.StoreFactory]()
//	drivers.Register("file", file.GetFactory())
//	f, err := drivers.Get("file")
//	store, err := f.Create(cfg)
package registry

import (
	"fmt"
	"sort"
	"sync"

	"kvcache/internal/common/errors"
)

// Factory is the minimum a registered entry must provide.
type Factory interface {
	// GetType returns the name the factory registers itself under
	GetType() string
}

// Registry maps names to factories of type T.
type Registry[T Factory] struct {
	factories map[string]T
	mu        sync.RWMutex
}

// New creates an empty registry.
func New[T Factory]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]T),
	}
}

// Register adds or replaces the factory stored under name.
func (r *Registry[T]) Register(name string, factory T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Add registers a factory under its own type name.
func (r *Registry[T]) Add(factory T) {
	r.Register(factory.GetType(), factory)
}

// Get returns the factory registered under name, or a not_found error.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		var zero T
		return zero, errors.NotFoundError(fmt.Sprintf("cache driver %s", name)).
			WithContext("available", r.Names())
	}

	return factory, nil
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether name has a factory.
func (r *Registry[T]) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[name]
	return exists
}

// Unregister removes name and reports whether it was present.
func (r *Registry[T]) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; !exists {
		return false
	}
	delete(r.factories, name)
	return true
}

// Count returns the number of registered factories.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
