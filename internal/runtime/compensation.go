package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/sagaflow/pkg/domain"
)

// ErrNotCompensable is returned when compensation is requested for an execution that did not fail.
var ErrNotCompensable = errors.New("only errored executions can be compensated")

// Compensate unwinds a failed execution: the compensation of every finished step
// runs in reverse order. Steps without a compensation are skipped.
// A failing compensation is recorded on its step and does not stop the unwinding;
// all such failures are returned joined.
func (e *Execution) Compensate(ctx context.Context, env Env) error {
	if e.Status != domain.SagaErrored {
		return fmt.Errorf("%w: %s is %s", ErrNotCompensable, e.ID, e.Status)
	}

	logger := env.logger()
	var errs []error

	for i := e.ActiveStep - 1; i >= 0; i-- {
		step := e.Steps[i]
		if step.Status != domain.StepFinished || step.Definition.Compensate == nil {
			continue
		}

		started := time.Now()
		partial, err := LocalExecutor{}.Exec(ctx, i, step.Definition.Compensate, e.Context)
		if err != nil {
			step.Error = err.Error()
			errs = append(errs, err)
			logger.WarnContext(ctx, "compensation failed",
				"saga_id", e.ID, "saga", e.Definition.Name(), "step", step.Definition.Name, "err", err)
		} else {
			e.Context.Merge(partial)
			if err := step.fire(ctx, triggerCompensate); err != nil {
				return err
			}
		}

		if env.Hooks.OnStepCompensate != nil {
			env.Hooks.OnStepCompensate(ctx, e.stepEvent(domain.EventStepCompensate, i, step, time.Since(started), err))
		}
	}

	e.UpdatedAt = time.Now().UTC()
	return errors.Join(errs...)
}
