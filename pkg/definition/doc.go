/*
Package definition provides a fluent builder for declaring saga definitions in Go.

A saga definition is an ordered list of steps. Each step either runs a local
callback or publishes a remote command and waits for its reply. A definition is
immutable once built and is shared by every execution that runs it.

Example usage:

	package main

	import (
		"context"

		"github.com/aretw0/sagaflow/pkg/definition"
		"github.com/aretw0/sagaflow/pkg/domain"
	)

	func main() {
		saga := definition.New("create-order").
			Step("reserve").
			Invoke(func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
				return domain.NewContext("reserved", true), nil
			}).
			Step("charge").
			Request(func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error) {
				return domain.Request{Target: "payments.charge", Content: sc.Map()}, nil
			}).
			OnReply(func(ctx context.Context, sc *domain.SagaContext, r domain.Reply) (*domain.SagaContext, error) {
				return domain.NewContext("charged", r.Content), nil
			}).
			MustBuild()

		_ = saga
	}
*/
package definition
