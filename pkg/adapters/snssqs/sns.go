// Package snssqs sends saga commands through AWS SNS and consumes replies from AWS SQS.
//
// Each logical topic maps to an SNS topic ARN for publishing and to an SQS
// queue URL for consuming. Replies may arrive raw or wrapped in the SNS
// notification envelope; both are accepted.
package snssqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"golang.org/x/sync/errgroup"
)

const maxBatchSize = 10

// SNSAPI is the part of *sns.Client the sender uses.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	PublishBatch(ctx context.Context, in *sns.PublishBatchInput, optFns ...func(*sns.Options)) (*sns.PublishBatchOutput, error)
}

// Sender publishes commands to SNS.
type Sender struct {
	client   SNSAPI
	topicARN func(topic string) string
}

// NewSender creates a Sender. topicARN maps a command topic to its SNS topic ARN.
func NewSender(client SNSAPI, topicARN func(topic string) string) *Sender {
	return &Sender{client: client, topicARN: topicARN}
}

// ARNPrefix maps topics by appending them to prefix,
// e.g. "arn:aws:sns:us-east-1:000000000000:".
func ARNPrefix(prefix string) func(string) string {
	return func(topic string) string {
		return prefix + topic
	}
}

// Send publishes one command.
func (s *Sender) Send(ctx context.Context, cmd domain.Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(s.topicARN(cmd.Topic)),
		Message:           aws.String(string(body)),
		MessageAttributes: attributes(cmd),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

// SendBatch publishes commands in batches of ten, grouped by topic.
func (s *Sender) SendBatch(ctx context.Context, cmds ...domain.Command) error {
	byTopic := make(map[string][]domain.Command)
	var order []string
	for _, cmd := range cmds {
		if _, ok := byTopic[cmd.Topic]; !ok {
			order = append(order, cmd.Topic)
		}
		byTopic[cmd.Topic] = append(byTopic[cmd.Topic], cmd)
	}

	gr, ctx := errgroup.WithContext(ctx)
	for _, topic := range order {
		for _, batch := range splitToChunks(byTopic[topic], maxBatchSize) {
			topic, batch := topic, batch
			gr.Go(func() error {
				return s.batchPublish(ctx, topic, batch)
			})
		}
	}
	return gr.Wait()
}

func (s *Sender) batchPublish(ctx context.Context, topic string, cmds []domain.Command) error {
	entries := make([]types.PublishBatchRequestEntry, len(cmds))
	for i, cmd := range cmds {
		body, err := json.Marshal(cmd)
		if err != nil {
			return fmt.Errorf("failed to marshal command: %w", err)
		}
		entries[i] = types.PublishBatchRequestEntry{
			Id:                aws.String(strconv.Itoa(i)),
			Message:           aws.String(string(body)),
			MessageAttributes: attributes(cmd),
		}
	}

	res, err := s.client.PublishBatch(ctx, &sns.PublishBatchInput{
		TopicArn:                   aws.String(s.topicARN(topic)),
		PublishBatchRequestEntries: entries,
	})
	if err != nil {
		return fmt.Errorf("failed to publish batch to SNS: %w", err)
	}
	if len(res.Failed) > 0 {
		f := res.Failed[0]
		return fmt.Errorf("failed to publish %d of %d commands to %s: %s", len(res.Failed), len(cmds), topic, aws.ToString(f.Message))
	}
	return nil
}

func attributes(cmd domain.Command) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		"topic": {
			DataType:    aws.String("String"),
			StringValue: aws.String(cmd.Topic),
		},
	}
	if cmd.CorrelationID != "" {
		attrs["correlation_id"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(cmd.CorrelationID),
		}
	}
	return attrs
}

// splitToChunks splits slice into chunks of specified size
func splitToChunks[T any](slice []T, chunkSize int) [][]T {
	var chunks [][]T
	for i := 0; i < len(slice); i += chunkSize {
		end := min(i+chunkSize, len(slice))
		chunks = append(chunks, slice[i:end])
	}
	return chunks
}
