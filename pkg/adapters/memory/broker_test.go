package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/sagaflow/pkg/adapters/memory"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_SendRecords(t *testing.T) {
	b := memory.NewBroker()
	ctx := context.Background()

	_, ok := b.Last()
	assert.False(t, ok)

	require.NoError(t, b.Send(ctx, domain.Command{Topic: "a"}))
	require.NoError(t, b.Send(ctx, domain.Command{Topic: "b"}))

	assert.Len(t, b.Sent(), 2)
	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, "b", last.Topic)
}

func TestBroker_SendHookFails(t *testing.T) {
	b := memory.NewBroker()
	b.OnSend(func(domain.Command) error { return errors.New("down") })

	err := b.Send(context.Background(), domain.Command{Topic: "a"})
	assert.Error(t, err)
	assert.Empty(t, b.Sent())
}

func TestBroker_ReplyDelivery(t *testing.T) {
	b := memory.NewBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan domain.Reply, 1)
	go func() {
		_ = b.Subscribe(ctx, "replies", func(ctx context.Context, r domain.Reply) error {
			got <- r
			return nil
		})
	}()

	require.NoError(t, b.Reply(ctx, "replies", domain.Reply{CorrelationID: "id-1"}))

	select {
	case r := <-got:
		assert.Equal(t, "id-1", r.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("reply not delivered")
	}
}
