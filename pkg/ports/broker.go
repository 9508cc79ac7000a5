package ports

import (
	"context"

	"github.com/aretw0/sagaflow/pkg/domain"
)

// CommandSender publishes the command of a remote step.
// Delivery guarantees are those of the underlying broker.
type CommandSender interface {
	Send(ctx context.Context, cmd domain.Command) error
}

// ReplyHandler consumes one reply. A nil error acknowledges it.
type ReplyHandler func(ctx context.Context, reply domain.Reply) error

// ReplySubscriber delivers replies published on a topic to a handler.
// Subscribe blocks until ctx is canceled or the subscription fails.
type ReplySubscriber interface {
	Subscribe(ctx context.Context, topic string, handler ReplyHandler) error
}
