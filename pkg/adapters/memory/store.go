package memory

import (
	"context"
	"fmt"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/hashicorp/go-memdb"
)

const table = "executions"

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		table: {
			Name: table,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"saga": {
					Name:         "saga",
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "SagaName"},
				},
			},
		},
	},
}

// Store implements ports.ExecutionStore on top of an in-memory radix database.
// Safe for concurrent use; write transactions are serialized by memdb.
type Store struct {
	db *memdb.MemDB
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// The schema is static; a failure here is a programming error.
		panic(fmt.Sprintf("memory store schema: %v", err))
	}
	return &Store{db: db}
}

// Save persists a copy of the record if its version matches the stored one.
func (s *Store) Save(ctx context.Context, rec *domain.ExecutionRecord) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(table, "id", rec.ID)
	if err != nil {
		return fmt.Errorf("failed to read execution: %w", err)
	}

	var current int64
	if raw != nil {
		current = raw.(*domain.ExecutionRecord).Version
	}
	if current != rec.Version {
		return fmt.Errorf("%w: %s (stored v%d, have v%d)", domain.ErrConflict, rec.ID, current, rec.Version)
	}

	stored := rec.Clone()
	stored.Version = current + 1
	if err := txn.Insert(table, stored); err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	txn.Commit()

	rec.Version = stored.Version
	return nil
}

// Load returns a copy so the caller can't mutate store state through the pointer.
func (s *Store) Load(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(table, "id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution: %w", err)
	}
	if raw == nil {
		return nil, domain.ErrExecutionNotFound
	}
	return raw.(*domain.ExecutionRecord).Clone(), nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if _, err := txn.DeleteAll(table, "id", id); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	txn.Commit()
	return nil
}

// List returns stored execution IDs.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.collect("id")
}

// ListBySaga returns the IDs of stored executions of one definition.
func (s *Store) ListBySaga(ctx context.Context, sagaName string) ([]string, error) {
	return s.collect("saga", sagaName)
}

func (s *Store) collect(index string, args ...any) ([]string, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	ids := []string{}
	for obj := it.Next(); obj != nil; obj = it.Next() {
		ids = append(ids, obj.(*domain.ExecutionRecord).ID)
	}
	return ids, nil
}
