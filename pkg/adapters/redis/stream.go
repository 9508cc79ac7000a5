package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// Stream is a CommandSender and ReplySubscriber over Redis Streams.
// Every topic maps to one stream; messages carry their JSON payload in the "data" field.
type Stream struct {
	client    *backend.Client
	prefix    string
	group     string
	consumer  string
	batchSize int64
	block     time.Duration
	retry     time.Duration
	logger    *slog.Logger
}

type StreamOption func(*Stream)

// WithStreamPrefix prefixes every stream name.
func WithStreamPrefix(prefix string) StreamOption {
	return func(s *Stream) {
		s.prefix = prefix
	}
}

// WithGroup sets the consumer group and consumer name used by Subscribe.
func WithGroup(group, consumer string) StreamOption {
	return func(s *Stream) {
		s.group = group
		s.consumer = consumer
	}
}

// WithBlock sets how long a read waits for new messages.
func WithBlock(d time.Duration) StreamOption {
	return func(s *Stream) {
		s.block = d
	}
}

// WithRetryInterval sets how long a failed message stays pending before it is redelivered.
func WithRetryInterval(d time.Duration) StreamOption {
	return func(s *Stream) {
		s.retry = d
	}
}

// WithStreamLogger sets the logger for dropped or failed messages.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *Stream) {
		s.logger = logger
	}
}

// NewStream creates a stream broker on client.
func NewStream(client *backend.Client, opts ...StreamOption) *Stream {
	s := &Stream{
		client:    client,
		group:     "sagaflow",
		consumer:  "sagaflow-0",
		batchSize: 10,
		block:     5 * time.Second,
		retry:     time.Second,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) stream(topic string) string {
	return s.prefix + topic
}

// Send appends the command to the stream named by its topic.
func (s *Stream) Send(ctx context.Context, cmd domain.Command) error {
	return s.publish(ctx, cmd.Topic, cmd)
}

// Reply appends a reply to topic. Services answering commands use it.
func (s *Stream) Reply(ctx context.Context, topic string, reply domain.Reply) error {
	return s.publish(ctx, topic, reply)
}

func (s *Stream) publish(ctx context.Context, topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = s.client.XAdd(ctx, &backend.XAddArgs{
		Stream: s.stream(topic),
		Values: map[string]any{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// Subscribe reads replies from topic through the consumer group until ctx is canceled.
// A message is acknowledged once handler succeeds. Failed ones stay pending and are
// redelivered to this consumer every retry interval, starting with any left over
// from an earlier run.
func (s *Stream) Subscribe(ctx context.Context, topic string, handler ports.ReplyHandler) error {
	stream := s.stream(topic)

	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group: %w", err)
	}

	retryPending := true
	var retryAt time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}

		if retryPending && !time.Now().Before(retryAt) {
			failed, err := s.redeliver(ctx, stream, handler)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			retryPending = failed > 0
			retryAt = time.Now().Add(s.retry)
		}

		// Wake up in time for the next pending retry.
		block := s.block
		if retryPending {
			block = min(block, max(time.Until(retryAt), time.Millisecond))
		}

		results, err := s.client.XReadGroup(ctx, &backend.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{stream, ">"},
			Count:    s.batchSize,
			Block:    block,
		}).Result()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, result := range results {
			for _, m := range result.Messages {
				if !s.process(ctx, result.Stream, m, handler) && !retryPending {
					retryPending = true
					retryAt = time.Now().Add(s.retry)
				}
			}
		}
	}
}

// redeliver walks this consumer's pending entries once and returns how many failed again.
func (s *Stream) redeliver(ctx context.Context, stream string, handler ports.ReplyHandler) (int, error) {
	failed := 0
	start := "0"
	for {
		results, err := s.client.XReadGroup(ctx, &backend.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{stream, start},
			Count:    s.batchSize,
			Block:    -1,
		}).Result()
		if err != nil && !errors.Is(err, backend.Nil) {
			return failed, fmt.Errorf("read pending: %w", err)
		}

		n := 0
		for _, result := range results {
			for _, m := range result.Messages {
				n++
				start = m.ID
				if !s.process(ctx, result.Stream, m, handler) {
					failed++
				}
			}
		}
		if n == 0 {
			return failed, nil
		}
	}
}

// process handles one message and reports whether it was acknowledged.
func (s *Stream) process(ctx context.Context, stream string, m backend.XMessage, handler ports.ReplyHandler) bool {
	ack := func() {
		if err := s.client.XAck(ctx, stream, s.group, m.ID).Err(); err != nil {
			s.logger.WarnContext(ctx, "ack failed", "stream", stream, "id", m.ID, "err", err)
		}
	}

	// Entries trimmed from the stream come back from the pending list without values.
	data, ok := m.Values["data"].(string)
	if !ok {
		s.logger.WarnContext(ctx, "dropping message without data", "stream", stream, "id", m.ID)
		ack()
		return true
	}

	var reply domain.Reply
	if err := json.Unmarshal([]byte(data), &reply); err != nil {
		s.logger.WarnContext(ctx, "dropping malformed reply", "stream", stream, "id", m.ID, "err", err)
		ack()
		return true
	}

	if err := handler(ctx, reply); err != nil {
		s.logger.ErrorContext(ctx, "reply handler failed", "stream", stream, "id", m.ID, "saga_id", reply.CorrelationID, "err", err)
		return false
	}
	ack()
	return true
}
