package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunExecutionStoreContract runs a suite of tests to verify that an ExecutionStore implementation
// adheres to the defined interface contract.
func RunExecutionStoreContract(t *testing.T, store ExecutionStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405.000000")

	newRecord := func(id string) *domain.ExecutionRecord {
		now := time.Now().UTC().Truncate(time.Millisecond)
		return &domain.ExecutionRecord{
			ID:         id,
			SagaName:   "contract-saga",
			Status:     domain.SagaPaused,
			ActiveStep: 1,
			Context:    domain.NewContext("zeta", "first", "alpha", 42),
			Steps: []domain.StepRecord{
				{Status: domain.StepFinished},
				{Status: domain.StepPausedOnReply, Token: "tok-1"},
				{Status: domain.StepCreated},
			},
			User:      "alice",
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	t.Run("Save and Load", func(t *testing.T) {
		id := prefix + "-save"
		rec := newRecord(id)

		err := store.Save(ctx, rec)
		require.NoError(t, err, "Save should not return error")
		assert.Equal(t, int64(1), rec.Version, "Save should bump the version")

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, rec.SagaName, loaded.SagaName)
		assert.Equal(t, rec.Status, loaded.Status)
		assert.Equal(t, rec.ActiveStep, loaded.ActiveStep)
		assert.Equal(t, rec.Steps, loaded.Steps)
		assert.Equal(t, rec.User, loaded.User)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, []string{"zeta", "alpha"}, loaded.Context.Keys(), "context order must survive storage")
		v, _ := loaded.Context.Get("zeta")
		assert.Equal(t, "first", v)
		// JSON-backed stores turn ints into float64; only check presence.
		_, ok := loaded.Context.Get("alpha")
		assert.True(t, ok)
	})

	t.Run("Update", func(t *testing.T) {
		id := prefix + "-update"
		rec := newRecord(id)
		require.NoError(t, store.Save(ctx, rec))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		loaded.Status = domain.SagaErrored
		loaded.Steps[1].Status = domain.StepErrored
		require.NoError(t, store.Save(ctx, loaded))
		assert.Equal(t, int64(2), loaded.Version)

		again, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SagaErrored, again.Status)
		assert.Equal(t, domain.StepErrored, again.Steps[1].Status)
	})

	t.Run("Stale Version Conflicts", func(t *testing.T) {
		id := prefix + "-conflict"
		require.NoError(t, store.Save(ctx, newRecord(id)))

		a, err := store.Load(ctx, id)
		require.NoError(t, err)
		b, err := store.Load(ctx, id)
		require.NoError(t, err)

		require.NoError(t, store.Save(ctx, a))

		b.Status = domain.SagaFinished
		err = store.Save(ctx, b)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, int64(1), b.Version, "a rejected save must not bump the version")

		current, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SagaPaused, current.Status, "a rejected save must not write")
	})

	t.Run("Duplicate Create Conflicts", func(t *testing.T) {
		id := prefix + "-dup"
		require.NoError(t, store.Save(ctx, newRecord(id)))
		err := store.Save(ctx, newRecord(id))
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+prefix)
		assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id := prefix + "-delete"
		require.NoError(t, store.Save(ctx, newRecord(id)))

		err := store.Delete(ctx, id)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrExecutionNotFound, "Load after Delete should return ErrExecutionNotFound")

		assert.NoError(t, store.Delete(ctx, id), "Delete should be idempotent")

		// A deleted execution can be stored again from scratch.
		assert.NoError(t, store.Save(ctx, newRecord(id)))
		_ = store.Delete(ctx, id)
	})

	t.Run("List", func(t *testing.T) {
		id1 := prefix + "-list-1"
		id2 := prefix + "-list-2"
		require.NoError(t, store.Save(ctx, newRecord(id1)))
		require.NoError(t, store.Save(ctx, newRecord(id2)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
