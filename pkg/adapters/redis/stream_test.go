package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/sagaflow/pkg/adapters/redis"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_SendAppendsCommand(t *testing.T) {
	mr, client := newClient(t)
	stream := redis.NewStream(client, redis.WithStreamPrefix("sf:"))

	err := stream.Send(context.Background(), domain.Command{
		Topic:         "payments.charge",
		Content:       map[string]any{"amount": 10},
		CorrelationID: "saga-1",
		ReplyTopic:    "replies",
		Token:         "tok",
	})
	require.NoError(t, err)

	entries, err := mr.Stream("sf:payments.charge")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data", entries[0].Values[0])
	assert.Contains(t, entries[0].Values[1], `"correlation_id":"saga-1"`)
}

func TestStream_SubscribeDeliversReplies(t *testing.T) {
	_, client := newClient(t)
	stream := redis.NewStream(client, redis.WithBlock(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []domain.Reply
	done := make(chan error, 1)
	go func() {
		done <- stream.Subscribe(ctx, "replies", func(ctx context.Context, r domain.Reply) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, r)
			return nil
		})
	}()

	require.NoError(t, stream.Reply(ctx, "replies", domain.Reply{CorrelationID: "saga-1", Token: "t1", Content: "ok"}))
	require.NoError(t, stream.Reply(ctx, "replies", domain.Reply{CorrelationID: "saga-2", Status: domain.ReplyError}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)

	assert.Equal(t, "saga-1", got[0].CorrelationID)
	assert.Equal(t, "ok", got[0].Content)
	assert.Equal(t, domain.ReplyError, got[1].Status)
}

func TestStream_FailedRepliesStayPending(t *testing.T) {
	_, client := newClient(t)
	stream := redis.NewStream(client, redis.WithBlock(50*time.Millisecond), redis.WithGroup("g", "c1"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan struct{}, 1)
	go func() {
		_ = stream.Subscribe(ctx, "replies", func(ctx context.Context, r domain.Reply) error {
			select {
			case handled <- struct{}{}:
			default:
			}
			return errors.New("store down")
		})
	}()

	require.NoError(t, stream.Reply(ctx, "replies", domain.Reply{CorrelationID: "saga-1"}))
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("reply was not delivered")
	}
	cancel()

	pending, err := client.XPending(context.Background(), "replies", "g").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestStream_FailedReplyIsRedelivered(t *testing.T) {
	_, client := newClient(t)
	stream := redis.NewStream(client,
		redis.WithBlock(50*time.Millisecond),
		redis.WithGroup("g", "c1"),
		redis.WithRetryInterval(20*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- stream.Subscribe(ctx, "replies", func(ctx context.Context, r domain.Reply) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return errors.New("store down")
			}
			return nil
		})
	}()

	require.NoError(t, stream.Reply(ctx, "replies", domain.Reply{CorrelationID: "saga-1"}))

	assert.Eventually(t, func() bool {
		pending, err := client.XPending(context.Background(), "replies", "g").Result()
		if err != nil || pending.Count != 0 {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestStream_PendingFromEarlierRunIsRedelivered(t *testing.T) {
	_, client := newClient(t)
	opts := []redis.StreamOption{redis.WithBlock(50 * time.Millisecond), redis.WithGroup("g", "c1")}

	// First run fails the reply and stops.
	first := redis.NewStream(client, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	failed := make(chan struct{}, 1)
	go func() {
		_ = first.Subscribe(ctx, "replies", func(ctx context.Context, r domain.Reply) error {
			select {
			case failed <- struct{}{}:
			default:
			}
			return errors.New("store down")
		})
	}()
	require.NoError(t, first.Reply(ctx, "replies", domain.Reply{CorrelationID: "saga-1"}))
	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("reply was not delivered")
	}
	cancel()

	// A restarted consumer with the same name picks it up.
	second := redis.NewStream(client, opts...)
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	got := make(chan domain.Reply, 1)
	go func() {
		_ = second.Subscribe(ctx2, "replies", func(ctx context.Context, r domain.Reply) error {
			select {
			case got <- r:
			default:
			}
			return nil
		})
	}()

	select {
	case r := <-got:
		assert.Equal(t, "saga-1", r.CorrelationID)
	case <-time.After(2 * time.Second):
		t.Fatal("pending reply was not redelivered after restart")
	}
}
