package sagaflow_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/sagaflow"
	"github.com/aretw0/sagaflow/pkg/adapters/memory"
	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/registry"
)

func Example() {
	charge := definition.New("charge-order").
		Step("charge").
		Request(func(ctx context.Context, sc *domain.SagaContext) (domain.Request, error) {
			return domain.Request{Target: "payments.charge", Content: sc.Map()}, nil
		}).
		OnReply(func(ctx context.Context, sc *domain.SagaContext, reply domain.Reply) (*domain.SagaContext, error) {
			return domain.NewContext("receipt", reply.Content), nil
		}).
		MustBuild()

	store := memory.NewStore()
	broker := memory.NewBroker()
	mgr, _ := sagaflow.New(store, registry.New(charge), sagaflow.WithSender(broker))

	ctx := context.Background()
	id, _ := mgr.Start(ctx, "charge-order", domain.NewContext("order_id", "o-1"))

	rec, _ := mgr.Load(ctx, id)
	cmd, _ := broker.Last()
	fmt.Println(rec.Status, cmd.Topic, cmd.ReplyTopic)

	_, _ = mgr.Resume(ctx, domain.ReplyFor(cmd, "r-1"))
	_, err := mgr.Load(ctx, id)
	fmt.Println(errors.Is(err, domain.ErrExecutionNotFound))

	// Output:
	// paused payments.charge sagaflow.replies
	// true
}

func ExampleWithCompensation() {
	def := definition.New("trip").
		Step("hotel").
		Invoke(func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
			return domain.NewContext("hotel", "HTL-1"), nil
		}).
		Compensate(func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
			fmt.Println("cancel", mustGet(sc, "hotel"))
			return domain.NewContext("hotel", nil), nil
		}).
		Step("car").
		Invoke(func(ctx context.Context, sc *domain.SagaContext) (*domain.SagaContext, error) {
			return nil, errors.New("no cars left")
		}).
		MustBuild()

	mgr, _ := sagaflow.New(memory.NewStore(), registry.New(def), sagaflow.WithCompensation())
	ctx := context.Background()
	id, _ := mgr.Start(ctx, "trip", nil)

	rec, _ := mgr.Load(ctx, id)
	fmt.Println(rec.Status, rec.Steps[0].Status, rec.Steps[1].Status)

	// Output:
	// cancel HTL-1
	// errored compensated errored
}

func mustGet(sc *domain.SagaContext, key string) any {
	v, _ := sc.Get(key)
	return v
}
