package snssqs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"
)

// SQSAPI is the part of *sqs.Client the subscriber uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

type subscriberOptions struct {
	workers                    int
	maxNumberOfMessages        int32
	waitTimeSeconds            int32
	visibilityTimeout          int32
	sleepTimeAfterEmptyReceive time.Duration
	sleepTimeAfterError        time.Duration
	receiveCountRange          int32
	visibilityTimeoutOffset    int32
	maxVisibilityTimeout       int32
	logger                     *slog.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*subscriberOptions)

// WithWorkers sets how many replies are handled concurrently.
func WithWorkers(workers int) SubscriberOption {
	return func(o *subscriberOptions) {
		o.workers = workers
	}
}

// WithVisibilityTimeout sets the visibility timeout, in seconds, of received messages.
func WithVisibilityTimeout(timeout int32) SubscriberOption {
	return func(o *subscriberOptions) {
		o.visibilityTimeout = timeout
	}
}

// WithWaitTime sets the long-poll duration, in seconds.
func WithWaitTime(seconds int32) SubscriberOption {
	return func(o *subscriberOptions) {
		o.waitTimeSeconds = seconds
	}
}

// WithPollBackoff sets the pauses after an empty receive and after a receive error.
func WithPollBackoff(empty, onError time.Duration) SubscriberOption {
	return func(o *subscriberOptions) {
		o.sleepTimeAfterEmptyReceive = empty
		o.sleepTimeAfterError = onError
	}
}

// WithLogger sets the subscriber logger.
func WithLogger(logger *slog.Logger) SubscriberOption {
	return func(o *subscriberOptions) {
		o.logger = logger
	}
}

// Subscriber consumes replies from SQS.
// A reply is deleted once handled; a failed one becomes visible again
// after a timeout that grows with its receive count.
type Subscriber struct {
	client   SQSAPI
	queueURL func(topic string) string
	options  subscriberOptions
}

// NewSubscriber creates a Subscriber. queueURL maps a reply topic to its queue URL.
func NewSubscriber(client SQSAPI, queueURL func(topic string) string, opts ...SubscriberOption) *Subscriber {
	options := subscriberOptions{
		workers:                    8,
		maxNumberOfMessages:        10,
		waitTimeSeconds:            15,
		visibilityTimeout:          30,
		sleepTimeAfterEmptyReceive: time.Second,
		sleepTimeAfterError:        5 * time.Second,
		receiveCountRange:          3,
		visibilityTimeoutOffset:    30,
		maxVisibilityTimeout:       900, // 15 minutes
		logger:                     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Subscriber{client: client, queueURL: queueURL, options: options}
}

// QueueURLPrefix maps topics by appending them to prefix,
// e.g. "https://sqs.us-east-1.amazonaws.com/000000000000/".
func QueueURLPrefix(prefix string) func(string) string {
	return func(topic string) string {
		return prefix + topic
	}
}

// Subscribe runs one reader and the configured workers until ctx is canceled.
func (s *Subscriber) Subscribe(ctx context.Context, topic string, handler ports.ReplyHandler) error {
	queueURL := s.queueURL(topic)
	inbound := make(chan types.Message, s.options.maxNumberOfMessages)

	gr, ctx := errgroup.WithContext(ctx)
	gr.Go(func() error {
		defer close(inbound)
		for ctx.Err() == nil {
			wait := s.options.sleepTimeAfterEmptyReceive
			n, err := s.read(ctx, queueURL, inbound)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				s.options.logger.WarnContext(ctx, "sqs receive failed", "queue", queueURL, "err", err)
				wait = s.options.sleepTimeAfterError
			} else if n > 0 {
				continue
			}
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}
		return nil
	})

	for i := 0; i < max(s.options.workers, 1); i++ {
		gr.Go(func() error {
			for msg := range inbound {
				s.handle(ctx, queueURL, msg, handler)
			}
			return nil
		})
	}

	return gr.Wait()
}

func (s *Subscriber) read(ctx context.Context, queueURL string, inbound chan<- types.Message) (int, error) {
	output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: s.options.maxNumberOfMessages,
		WaitTimeSeconds:     s.options.waitTimeSeconds,
		VisibilityTimeout:   s.options.visibilityTimeout,
		AttributeNames: []types.QueueAttributeName{
			"ApproximateReceiveCount",
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to receive message from SQS: %w", err)
	}

	for _, msg := range output.Messages {
		select {
		case inbound <- msg:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return len(output.Messages), nil
}

func (s *Subscriber) handle(ctx context.Context, queueURL string, msg types.Message, handler ports.ReplyHandler) {
	logger := s.options.logger.With("queue", queueURL, "message_id", aws.ToString(msg.MessageId))

	reply, err := decodeReply(aws.ToString(msg.Body))
	if err != nil {
		// Poison message: drop it instead of redelivering forever.
		logger.WarnContext(ctx, "dropping malformed reply", "err", err)
		s.delete(ctx, queueURL, msg, logger)
		return
	}

	if err := handler(ctx, reply); err != nil {
		logger.ErrorContext(ctx, "reply handler failed", "saga_id", reply.CorrelationID, "err", err)
		s.extendVisibility(ctx, queueURL, msg, logger)
		return
	}
	s.delete(ctx, queueURL, msg, logger)
}

func (s *Subscriber) delete(ctx context.Context, queueURL string, msg types.Message, logger *slog.Logger) {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to delete message from SQS", "err", err)
	}
}

func (s *Subscriber) extendVisibility(ctx context.Context, queueURL string, msg types.Message, logger *slog.Logger) {
	receiveCount, err := strconv.Atoi(msg.Attributes["ApproximateReceiveCount"])
	if err != nil {
		receiveCount = 1
	}

	timeout := s.options.visibilityTimeout
	timeout += (int32(receiveCount) / s.options.receiveCountRange) * s.options.visibilityTimeoutOffset
	timeout = min(timeout, s.options.maxVisibilityTimeout)

	_, err = s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: timeout,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to extend visibility timeout", "err", err)
	}
}

// snsEnvelope is the body SQS receives from an SNS subscription without raw delivery.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

func decodeReply(body string) (domain.Reply, error) {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil && env.Type == "Notification" {
		body = env.Message
	}

	var reply domain.Reply
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		return domain.Reply{}, err
	}
	return reply, nil
}
