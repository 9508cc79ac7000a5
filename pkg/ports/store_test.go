package ports_test

import (
	"context"
	"sync"
	"testing"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
)

// MockStore is a map-backed ExecutionStore used to validate the contract suite itself.
type MockStore struct {
	mu   sync.Mutex
	data map[string]*domain.ExecutionRecord
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]*domain.ExecutionRecord),
	}
}

func (m *MockStore) Save(ctx context.Context, rec *domain.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if stored, ok := m.data[rec.ID]; ok {
		current = stored.Version
	}
	if current != rec.Version {
		return domain.ErrConflict
	}
	rec.Version++
	m.data[rec.ID] = rec.Clone()
	return nil
}

func (m *MockStore) Load(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.data[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return rec.Clone(), nil
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *MockStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids, nil
}

func TestExecutionStore_Contract(t *testing.T) {
	ports.RunExecutionStoreContract(t, NewMockStore())
}
