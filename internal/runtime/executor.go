package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
)

var errRequestWithoutTarget = errors.New("request has no target")

// guard runs fn and converts a returned error or a panic into a *domain.ExecutorError.
// Nothing raised by user callbacks or by the broker crosses this boundary unwrapped.
func guard(step int, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.ExecutorError{Step: step, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	if cause := fn(); cause != nil {
		return &domain.ExecutorError{Step: step, Cause: cause}
	}
	return nil
}

// LocalExecutor runs a local step callback.
type LocalExecutor struct{}

// Exec calls fn with a clone of sc and returns the partial context to merge.
func (LocalExecutor) Exec(ctx context.Context, step int, fn definition.LocalFunc, sc *domain.SagaContext) (*domain.SagaContext, error) {
	var partial *domain.SagaContext
	err := guard(step, func() error {
		var err error
		partial, err = fn(ctx, sc.Clone())
		return err
	})
	if err != nil {
		return nil, err
	}
	return partial, nil
}

// RequestExecutor derives the command of a remote step and publishes it.
type RequestExecutor struct {
	sender     ports.CommandSender
	replyTopic string
}

// NewRequestExecutor fails with domain.ErrBrokerNotProvided when sender is nil.
func NewRequestExecutor(sender ports.CommandSender, replyTopic string) (*RequestExecutor, error) {
	if sender == nil {
		return nil, domain.ErrBrokerNotProvided
	}
	return &RequestExecutor{sender: sender, replyTopic: replyTopic}, nil
}

// ReplyTopic returns the topic replies are expected on.
func (e *RequestExecutor) ReplyTopic() string {
	return e.replyTopic
}

// RequestMeta identifies the execution a command belongs to.
type RequestMeta struct {
	ExecutionID string
	User        string
	Token       string
}

// Exec calls fn with a clone of sc and sends the resulting command.
func (e *RequestExecutor) Exec(ctx context.Context, step int, fn definition.RequestFunc, sc *domain.SagaContext, meta RequestMeta) error {
	return guard(step, func() error {
		req, err := fn(ctx, sc.Clone())
		if err != nil {
			return err
		}
		if req.Target == "" {
			return errRequestWithoutTarget
		}
		cmd := domain.Command{
			Topic:         req.Target,
			Content:       req.Content,
			CorrelationID: meta.ExecutionID,
			ReplyTopic:    e.replyTopic,
			User:          meta.User,
			Token:         meta.Token,
		}
		if err := e.sender.Send(ctx, cmd); err != nil {
			return fmt.Errorf("send %s: %w", req.Target, err)
		}
		return nil
	})
}

// ResponseExecutor applies a reply to a remote step.
type ResponseExecutor struct{}

// Exec routes a successful reply to OnReply and a failed one to OnError.
// A failed reply without OnError fails the step with a *domain.RemoteError.
// A step without OnReply accepts a successful reply and merges nothing.
func (ResponseExecutor) Exec(ctx context.Context, step int, def *definition.Step, sc *domain.SagaContext, reply domain.Reply) (*domain.SagaContext, error) {
	fn := def.OnReply
	if !reply.Ok() {
		if def.OnError == nil {
			return nil, guard(step, func() error {
				return &domain.RemoteError{Service: reply.Service, Status: reply.Status, Message: reply.Error}
			})
		}
		fn = def.OnError
	}
	if fn == nil {
		return nil, nil
	}

	var partial *domain.SagaContext
	err := guard(step, func() error {
		var err error
		partial, err = fn(ctx, sc.Clone(), reply)
		return err
	})
	if err != nil {
		return nil, err
	}
	return partial, nil
}
