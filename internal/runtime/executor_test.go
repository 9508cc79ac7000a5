package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/sagaflow/internal/runtime"
	"github.com/aretw0/sagaflow/pkg/adapters/memory"
	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecutor_WrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := runtime.LocalExecutor{}.Exec(context.Background(), 3,
		func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
			return nil, boom
		}, domain.NewContext())

	var execErr *domain.ExecutorError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.Step)
	assert.ErrorIs(t, err, boom)
}

func TestLocalExecutor_RecoversPanics(t *testing.T) {
	_, err := runtime.LocalExecutor{}.Exec(context.Background(), 0,
		func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
			panic("kaboom")
		}, domain.NewContext())

	var execErr *domain.ExecutorError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "kaboom")
}

func TestLocalExecutor_CallbackGetsACopy(t *testing.T) {
	sc := domain.NewContext("a", 1)
	_, err := runtime.LocalExecutor{}.Exec(context.Background(), 0,
		func(ctx context.Context, in *domain.SagaContext) (*domain.SagaContext, error) {
			in.Set("leak", true)
			return nil, nil
		}, sc)
	require.NoError(t, err)

	_, leaked := sc.Get("leak")
	assert.False(t, leaked, "callbacks must not mutate the accumulated context")
}

func TestNewRequestExecutor_RequiresSender(t *testing.T) {
	_, err := runtime.NewRequestExecutor(nil, "replies")
	assert.ErrorIs(t, err, domain.ErrBrokerNotProvided)
}

func TestRequestExecutor_SendsCommand(t *testing.T) {
	broker := memory.NewBroker()
	exec, err := runtime.NewRequestExecutor(broker, "order.replies")
	require.NoError(t, err)

	err = exec.Exec(context.Background(), 1,
		func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error) {
			v, _ := sc.Get("order")
			return domain.Request{Target: "payments.charge", Content: v}, nil
		},
		domain.NewContext("order", "o-1"),
		runtime.RequestMeta{ExecutionID: "exec-1", User: "bob", Token: "tok"},
	)
	require.NoError(t, err)

	cmd, ok := broker.Last()
	require.True(t, ok)
	assert.Equal(t, domain.Command{
		Topic:         "payments.charge",
		Content:       "o-1",
		CorrelationID: "exec-1",
		ReplyTopic:    "order.replies",
		User:          "bob",
		Token:         "tok",
	}, cmd)
}

func TestRequestExecutor_Failures(t *testing.T) {
	broker := memory.NewBroker()
	exec, err := runtime.NewRequestExecutor(broker, "r")
	require.NoError(t, err)
	ctx := context.Background()
	meta := runtime.RequestMeta{ExecutionID: "e"}

	t.Run("callback error", func(t *testing.T) {
		err := exec.Exec(ctx, 0, func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error) {
			return domain.Request{}, errors.New("no content")
		}, domain.NewContext(), meta)
		var execErr *domain.ExecutorError
		assert.ErrorAs(t, err, &execErr)
	})

	t.Run("missing target", func(t *testing.T) {
		err := exec.Exec(ctx, 0, func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error) {
			return domain.Request{}, nil
		}, domain.NewContext(), meta)
		var execErr *domain.ExecutorError
		assert.ErrorAs(t, err, &execErr)
	})

	t.Run("broker error", func(t *testing.T) {
		down := errors.New("broker down")
		broker.OnSend(func(domain.Command) error { return down })
		defer broker.OnSend(nil)

		err := exec.Exec(ctx, 0, func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error) {
			return domain.Request{Target: "t"}, nil
		}, domain.NewContext(), meta)
		var execErr *domain.ExecutorError
		assert.ErrorAs(t, err, &execErr)
		assert.ErrorIs(t, err, down)
	})
}

func TestResponseExecutor_Routing(t *testing.T) {
	ctx := context.Background()
	onReply := func(ctx context.Context, sc *domain.SagaContext, r domain.Reply) (*domain.SagaContext, error) {
		return domain.NewContext("handled_by", "reply"), nil
	}
	onError := func(ctx context.Context, sc *domain.SagaContext, r domain.Reply) (*domain.SagaContext, error) {
		return domain.NewContext("handled_by", "error"), nil
	}

	t.Run("success goes to OnReply", func(t *testing.T) {
		step := &definition.Step{OnReply: onReply, OnError: onError}
		partial, err := runtime.ResponseExecutor{}.Exec(ctx, 0, step, domain.NewContext(), domain.Reply{Status: domain.ReplySuccess})
		require.NoError(t, err)
		v, _ := partial.Get("handled_by")
		assert.Equal(t, "reply", v)
	})

	t.Run("error goes to OnError", func(t *testing.T) {
		step := &definition.Step{OnReply: onReply, OnError: onError}
		partial, err := runtime.ResponseExecutor{}.Exec(ctx, 0, step, domain.NewContext(), domain.Reply{Status: domain.ReplyError})
		require.NoError(t, err)
		v, _ := partial.Get("handled_by")
		assert.Equal(t, "error", v)
	})

	t.Run("error without handler fails", func(t *testing.T) {
		step := &definition.Step{OnReply: onReply}
		_, err := runtime.ResponseExecutor{}.Exec(ctx, 2, step, domain.NewContext(),
			domain.Reply{Status: domain.ReplySystemError, Error: "db down", Service: "stock"})

		var remote *domain.RemoteError
		require.ErrorAs(t, err, &remote)
		assert.Equal(t, "stock", remote.Service)
		var execErr *domain.ExecutorError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, 2, execErr.Step)
	})

	t.Run("no handler merges nothing", func(t *testing.T) {
		partial, err := runtime.ResponseExecutor{}.Exec(ctx, 0, &definition.Step{}, domain.NewContext(), domain.Reply{})
		require.NoError(t, err)
		assert.Equal(t, 0, partial.Len())
	})
}
