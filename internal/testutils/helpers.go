package testutils

import (
	"context"
	"sync"

	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
)

// Set returns a local callback that merges key=value.
func Set(key string, value any) definition.LocalFunc {
	return func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
		return domain.NewContext(key, value), nil
	}
}

// Fail returns a local callback that always fails with err.
func Fail(err error) definition.LocalFunc {
	return func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
		return nil, err
	}
}

// Send returns a request callback that targets topic with the current context as content.
func Send(target string) definition.RequestFunc {
	return func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error) {
		return domain.Request{Target: target, Content: sc.Map()}, nil
	}
}

// Store returns a reply callback that merges the reply content under key.
func Store(key string) definition.ReplyFunc {
	return func(ctx context.Context, sc *domain.SagaContext, r domain.Reply) (*domain.SagaContext, error) {
		return domain.NewContext(key, r.Content), nil
	}
}

// Journal records callback invocations in order. Safe for concurrent use.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

// Local wraps fn so every call is recorded under name.
func (j *Journal) Local(name string, fn definition.LocalFunc) definition.LocalFunc {
	return func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
		j.add(name)
		return fn(ctx, sc)
	}
}

// Reply wraps fn so every call is recorded under name.
func (j *Journal) Reply(name string, fn definition.ReplyFunc) definition.ReplyFunc {
	return func(ctx context.Context, sc *domain.SagaContext, r domain.Reply) (*domain.SagaContext, error) {
		j.add(name)
		return fn(ctx, sc, r)
	}
}

// Entries returns the recorded names in call order.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

// Count returns how often name was recorded.
func (j *Journal) Count(name string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.entries {
		if e == name {
			n++
		}
	}
	return n
}

func (j *Journal) add(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, name)
}
