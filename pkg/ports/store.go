package ports

import (
	"context"

	"github.com/aretw0/sagaflow/pkg/domain"
)

// ExecutionStore defines the interface for persisting saga executions.
// This is what makes a paused saga survive a process restart.
type ExecutionStore interface {
	// Save persists the record under record.ID.
	// The stored version must equal record.Version (zero for a record never stored),
	// otherwise domain.ErrConflict is returned and nothing is written.
	// On success record.Version is incremented to the newly stored version.
	Save(ctx context.Context, record *domain.ExecutionRecord) error

	// Load retrieves the record for an execution ID.
	// Returns domain.ErrExecutionNotFound if the execution does not exist.
	Load(ctx context.Context, id string) (*domain.ExecutionRecord, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns the IDs of every stored execution.
	List(ctx context.Context) ([]string, error)
}
