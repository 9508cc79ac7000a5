package registry

import (
	"context"
	"testing"

	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saga(name string) *definition.Saga {
	return definition.New(name).
		Step("only").
		Invoke(func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
			return nil, nil
		}).
		MustBuild()
}

func TestRegistry_GetAndNames(t *testing.T) {
	r := New(saga("b"), saga("a"))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name())
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistry_Unknown(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
}

func TestRegistry_Overwrite(t *testing.T) {
	r := New(saga("a"))
	replacement := definition.New("a").MustBuild()
	r.Register(replacement)

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, replacement, got)
}
