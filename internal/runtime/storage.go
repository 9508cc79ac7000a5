package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/ports"
)

// Definitions resolves a saga name to its definition.
type Definitions interface {
	Get(name string) (*definition.Saga, error)
}

// Storage persists executions through a record store and re-binds
// their definitions on load.
type Storage struct {
	store       ports.ExecutionStore
	definitions Definitions
}

// NewStorage creates a Storage.
func NewStorage(store ports.ExecutionStore, definitions Definitions) *Storage {
	return &Storage{store: store, definitions: definitions}
}

// Store saves the execution. On success e.Version reflects the stored version.
func (s *Storage) Store(ctx context.Context, e *Execution) error {
	rec := e.ToRecord()
	if err := s.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("store execution %s: %w", e.ID, err)
	}
	e.Version = rec.Version
	return nil
}

// Load retrieves an execution by ID.
// Returns domain.ErrExecutionNotFound (wrapped) if it does not exist.
func (s *Storage) Load(ctx context.Context, id string) (*Execution, error) {
	rec, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", id, err)
	}
	def, err := s.definitions.Get(rec.SagaName)
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", id, err)
	}
	return FromRecord(rec, def)
}

// Delete removes an execution.
func (s *Storage) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete execution %s: %w", id, err)
	}
	return nil
}

// Records returns the underlying record store.
func (s *Storage) Records() ports.ExecutionStore {
	return s.store
}
