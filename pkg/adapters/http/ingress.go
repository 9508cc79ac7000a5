package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
	"github.com/go-chi/chi/v5"
)

// MaxReplyBytes bounds the size of a posted reply.
const MaxReplyBytes = 1 << 20

// Ingress is a ports.ReplySubscriber fed by HTTP: remote services POST replies
// to /{topic}. The response tells the caller whether to retry:
//   - 202: handled
//   - 400: malformed, do not retry
//   - 404: nobody subscribed to the topic
//   - 500: handler failed, retry later
type Ingress struct {
	mu       sync.RWMutex
	handlers map[string]ports.ReplyHandler
	logger   *slog.Logger
}

type IngressOption func(*Ingress)

func WithLogger(logger *slog.Logger) IngressOption {
	return func(i *Ingress) {
		i.logger = logger
	}
}

func NewIngress(opts ...IngressOption) *Ingress {
	i := &Ingress{
		handlers: make(map[string]ports.ReplyHandler),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Subscribe routes replies posted to topic to handler until ctx is canceled.
func (i *Ingress) Subscribe(ctx context.Context, topic string, handler ports.ReplyHandler) error {
	i.mu.Lock()
	if _, taken := i.handlers[topic]; taken {
		i.mu.Unlock()
		return fmt.Errorf("topic %q already has a subscriber", topic)
	}
	i.handlers[topic] = handler
	i.mu.Unlock()

	<-ctx.Done()

	i.mu.Lock()
	delete(i.handlers, topic)
	i.mu.Unlock()
	return nil
}

// Routes returns the handler to mount, e.g. under /replies.
func (i *Ingress) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/{topic}", i.receive)
	return r
}

func (i *Ingress) receive(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "topic")

	i.mu.RLock()
	handler, ok := i.handlers[topic]
	i.mu.RUnlock()
	if !ok {
		http.Error(w, "no subscriber for topic", http.StatusNotFound)
		return
	}

	var reply domain.Reply
	body := http.MaxBytesReader(w, r.Body, MaxReplyBytes)
	if err := json.NewDecoder(body).Decode(&reply); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "reply too large", http.StatusRequestEntityTooLarge)
			return
		}
		i.logger.Warn("rejecting malformed reply", "topic", topic, "err", err)
		http.Error(w, "invalid reply body", http.StatusBadRequest)
		return
	}
	if reply.CorrelationID == "" {
		http.Error(w, "reply has no correlation_id", http.StatusBadRequest)
		return
	}

	if err := handler(r.Context(), reply); err != nil {
		i.logger.Error("reply handler failed", "topic", topic, "saga_id", reply.CorrelationID, "err", err)
		http.Error(w, "reply not applied", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
