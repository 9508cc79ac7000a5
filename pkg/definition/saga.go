package definition

import (
	"context"
	"errors"

	"github.com/aretw0/sagaflow/pkg/domain"
)

// ErrInvalidStep is returned by Build when a step is not well formed.
var ErrInvalidStep = errors.New("invalid saga step")

// LocalFunc runs in-process and returns the partial context to merge.
// A nil result merges nothing.
type LocalFunc func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error)

// RequestFunc derives the command to publish for a remote step.
type RequestFunc func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error)

// ReplyFunc consumes the reply of a remote step and returns the partial context to merge.
type ReplyFunc func(ctx context.Context, sc *domain.SagaContext, reply domain.Reply) (*domain.SagaContext, error)

// Step is one unit of a saga definition.
type Step struct {
	Name string

	Invoke  LocalFunc
	Request RequestFunc
	OnReply ReplyFunc
	OnError ReplyFunc

	// Compensate undoes the step after a later step failed.
	Compensate LocalFunc
}

// IsRemote reports whether the step publishes a command and waits for a reply.
func (s *Step) IsRemote() bool {
	return s.Request != nil
}

// Saga is an immutable, ordered list of steps registered under a name.
type Saga struct {
	name  string
	steps []*Step
}

// Name returns the registry name of the definition.
func (s *Saga) Name() string {
	return s.name
}

// Len returns the number of steps.
func (s *Saga) Len() int {
	return len(s.steps)
}

// Step returns the step at index i.
func (s *Saga) Step(i int) *Step {
	return s.steps[i]
}

// Steps returns the steps in execution order.
func (s *Saga) Steps() []*Step {
	out := make([]*Step, len(s.steps))
	copy(out, s.steps)
	return out
}
