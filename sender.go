package sagaflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
	"github.com/sethvargo/go-retry"
)

// retrySender retries failed sends with exponential backoff.
// Commands carry their token, so a duplicate delivery is rejected on reply.
type retrySender struct {
	next     ports.CommandSender
	attempts uint64
	backoff  time.Duration
	logger   *slog.Logger
}

func (s *retrySender) Send(ctx context.Context, cmd domain.Command) error {
	b := retry.WithMaxRetries(s.attempts, retry.NewExponential(s.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := s.next.Send(ctx, cmd); err != nil {
			s.logger.WarnContext(ctx, "command send failed, retrying",
				"saga_id", cmd.CorrelationID, "topic", cmd.Topic, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
