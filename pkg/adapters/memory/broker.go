package memory

import (
	"context"
	"sync"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
)

// Broker is an in-process CommandSender and ReplySubscriber.
// Commands are recorded for inspection; replies are delivered per topic.
// Intended for tests, examples and single-process deployments.
type Broker struct {
	mu       sync.Mutex
	sent     []domain.Command
	replies  map[string]chan domain.Reply
	sendHook func(domain.Command) error
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		replies: make(map[string]chan domain.Reply),
	}
}

// OnSend registers a function called for every command. A returned error fails the send.
func (b *Broker) OnSend(fn func(domain.Command) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendHook = fn
}

// Send records the command.
func (b *Broker) Send(ctx context.Context, cmd domain.Command) error {
	b.mu.Lock()
	hook := b.sendHook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(cmd); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.sent = append(b.sent, cmd)
	b.mu.Unlock()
	return nil
}

// Sent returns a copy of every command sent so far.
func (b *Broker) Sent() []domain.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Command, len(b.sent))
	copy(out, b.sent)
	return out
}

// Last returns the most recent command.
func (b *Broker) Last() (domain.Command, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return domain.Command{}, false
	}
	return b.sent[len(b.sent)-1], true
}

// Reply publishes a reply on topic. It blocks until a subscriber takes it or ctx ends.
func (b *Broker) Reply(ctx context.Context, topic string, reply domain.Reply) error {
	select {
	case b.topic(topic) <- reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe delivers replies on topic to handler until ctx is canceled.
// Handler errors are ignored: there is no redelivery in memory.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler ports.ReplyHandler) error {
	ch := b.topic(topic)
	for {
		select {
		case <-ctx.Done():
			return nil
		case reply := <-ch:
			_ = handler(ctx, reply)
		}
	}
}

func (b *Broker) topic(name string) chan domain.Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.replies[name]
	if !ok {
		ch = make(chan domain.Reply)
		b.replies[name] = ch
	}
	return ch
}
