// Package http carries commands and replies over plain HTTP: commands are
// POSTed to per-topic webhooks, replies are POSTed back to an Ingress.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aretw0/sagaflow/pkg/domain"
)

// Sender posts each command as JSON to the endpoint of its topic.
// Any non-2xx answer fails the send.
type Sender struct {
	client   *http.Client
	endpoint func(topic string) string
}

type SenderOption func(*Sender)

// WithClient replaces the default client (10s timeout).
func WithClient(client *http.Client) SenderOption {
	return func(s *Sender) {
		s.client = client
	}
}

// NewSender creates a sender. endpoint maps a topic to its webhook URL.
func NewSender(endpoint func(topic string) string, opts ...SenderOption) *Sender {
	s := &Sender{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URLPrefix maps topics by appending them to prefix, e.g. "https://gateway/commands/".
func URLPrefix(prefix string) func(string) string {
	return func(topic string) string {
		return prefix + topic
	}
}

// Send posts cmd. The correlation id travels in the X-Correlation-ID header too.
func (s *Sender) Send(ctx context.Context, cmd domain.Command) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(cmd.Topic), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Correlation-ID", cmd.CorrelationID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post command to %s: %w", cmd.Topic, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("command to %s rejected: %s", cmd.Topic, resp.Status)
	}
	return nil
}
