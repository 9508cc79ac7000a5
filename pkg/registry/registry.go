package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
)

// Registry maps saga names to their definitions.
// It is filled at startup and read by the manager afterwards.
type Registry struct {
	mu    sync.RWMutex
	sagas map[string]*definition.Saga
}

// New creates a registry holding the given definitions.
func New(sagas ...*definition.Saga) *Registry {
	r := &Registry{
		sagas: make(map[string]*definition.Saga),
	}
	for _, s := range sagas {
		r.Register(s)
	}
	return r
}

// Register adds a definition under its own name.
// If a definition with the same name exists, it is overwritten.
func (r *Registry) Register(saga *definition.Saga) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sagas[saga.Name()] = saga
}

// Get looks up a definition by name.
// Returns domain.ErrDefinitionNotFound if the name is unknown.
func (r *Registry) Get(name string) (*definition.Saga, error) {
	r.mu.RLock()
	saga, ok := r.sagas[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDefinitionNotFound, name)
	}
	return saga, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sagas))
	for name := range r.sagas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
