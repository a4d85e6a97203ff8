package codec

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ErrNotRegistered is returned by Lookup for unknown codec names.
var ErrNotRegistered = errors.New("codec: not registered")

// Registry maps codec names, as announced in stream starts, to factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding fs, keyed by their names.
func NewRegistry(fs ...Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, f := range fs {
		r.Register(f)
	}
	return r
}

// Register adds f, replacing any factory with the same name.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Name()] = f
}

// Lookup returns the factory for name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return f, nil
}

// Names lists registered codec names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.factories))
}

var defaultRegistry = NewRegistry(Opus())

// Default returns the process-wide registry, preloaded with Opus.
func Default() *Registry { return defaultRegistry }

// Lookup finds name in the default registry.
func Lookup(name string) (Factory, error) { return defaultRegistry.Lookup(name) }
