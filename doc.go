/*
Package sagaflow is a saga orchestration engine for long-running business
transactions that span several independently deployed services.

A saga is an ordered list of steps. Local steps run in-process; remote steps
publish a command through a broker and suspend until the correlated reply
arrives. Suspension is durable state, never a blocked goroutine: a paused
execution is written to an ExecutionStore and resumed, possibly by another
process, when its reply is delivered.

# Concept

The Manager is the only entry point. It starts executions by definition name,
resumes them by reply, persists them when they pause or fail and deletes them
when they finish. At most one driver runs per execution: the manager holds a
per-ID lock (optionally distributed) and every store rejects stale writes with
domain.ErrConflict.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/sagaflow"
		"github.com/aretw0/sagaflow/pkg/adapters/memory"
		"github.com/aretw0/sagaflow/pkg/definition"
		"github.com/aretw0/sagaflow/pkg/domain"
		"github.com/aretw0/sagaflow/pkg/registry"
	)

	func main() {
		order := definition.New("create-order").
			Step("charge").
			Request(func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error) {
				return domain.Request{Target: "payments.charge", Content: sc.Map()}, nil
			}).
			MustBuild()

		broker := memory.NewBroker()
		mgr, err := sagaflow.New(memory.NewStore(), registry.New(order), sagaflow.WithSender(broker))
		if err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		id, err := mgr.Start(ctx, "create-order", domain.NewContext("order_id", "o-1"))
		if err != nil {
			log.Fatal(err)
		}

		// Later, when the payments service answers:
		cmd, _ := broker.Last()
		if _, err := mgr.Resume(ctx, domain.ReplyFor(cmd, "receipt-1")); err != nil {
			log.Fatal(err)
		}
		_ = id
	}

# Key Packages

  - pkg/definition: Fluent builder for saga definitions.
  - pkg/domain: Value types (context, statuses, commands, replies, records).
  - pkg/ports: Store, broker and locker interfaces.
  - pkg/adapters: Memory, Redis, Kafka, SNS/SQS and HTTP adapters.
  - pkg/persistence/middleware: Encryption and PII masking for any store.
*/
package sagaflow
