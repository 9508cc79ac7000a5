// Package kafka carries saga commands and replies over Kafka topics.
//
// Commands are keyed by saga ID so every command of one execution lands on
// the same partition. Replies are consumed through a consumer group and
// committed only after the handler succeeds.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
	kafka "github.com/segmentio/kafka-go"
)

// messageWriter is the part of kafka.Writer the sender needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageReader is the part of kafka.Reader the subscriber needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sender publishes commands and replies.
type Sender struct {
	writer messageWriter
}

// NewSender creates a Sender writing to brokers.
// The topic is taken from each message.
func NewSender(brokers []string) *Sender {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &Sender{writer: w}
}

// Send publishes cmd on its topic.
func (s *Sender) Send(ctx context.Context, cmd domain.Command) error {
	return s.write(ctx, cmd.Topic, cmd.CorrelationID, cmd)
}

// Reply publishes a reply on topic. Services answering commands use it.
func (s *Sender) Reply(ctx context.Context, topic string, reply domain.Reply) error {
	return s.write(ctx, topic, reply.CorrelationID, reply)
}

func (s *Sender) write(ctx context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close closes the writer.
func (s *Sender) Close() error {
	return s.writer.Close()
}

// Subscriber consumes replies through a consumer group.
type Subscriber struct {
	newReader func(topic string) messageReader
	backoff   time.Duration
	logger    *slog.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithLogger sets the logger for dropped or failed replies.
func WithLogger(logger *slog.Logger) SubscriberOption {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithRetryBackoff sets the pause before a failed reply is handled again.
func WithRetryBackoff(d time.Duration) SubscriberOption {
	return func(s *Subscriber) {
		s.backoff = d
	}
}

// NewSubscriber creates a Subscriber reading from brokers as member of groupID.
func NewSubscriber(brokers []string, groupID string, opts ...SubscriberOption) *Subscriber {
	return newSubscriber(func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}, opts...)
}

func newSubscriber(newReader func(string) messageReader, opts ...SubscriberOption) *Subscriber {
	s := &Subscriber{
		newReader: newReader,
		backoff:   time.Second,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe delivers replies on topic to handler until ctx is canceled.
// A reply whose handler fails is retried before the offset moves on.
func (s *Subscriber) Subscribe(ctx context.Context, topic string, handler ports.ReplyHandler) error {
	r := s.newReader(topic)
	defer r.Close()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch from %s: %w", topic, err)
		}

		if err := s.handle(ctx, msg, handler); err != nil {
			// Canceled while retrying; the offset stays uncommitted.
			return nil
		}
		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "commit failed", "topic", topic, "offset", msg.Offset, "err", err)
		}
	}
}

// handle returns an error only when ctx ends before handler succeeds.
func (s *Subscriber) handle(ctx context.Context, msg kafka.Message, handler ports.ReplyHandler) error {
	var reply domain.Reply
	if err := json.Unmarshal(msg.Value, &reply); err != nil {
		s.logger.WarnContext(ctx, "dropping malformed reply", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		return nil
	}

	for {
		err := handler(ctx, reply)
		if err == nil {
			return nil
		}
		s.logger.ErrorContext(ctx, "reply handler failed",
			"topic", msg.Topic, "offset", msg.Offset, "saga_id", reply.CorrelationID, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
}
