package runtime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/sagaflow/internal/runtime"
	"github.com/aretw0/sagaflow/internal/testutils"
	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_CompensateInReverse(t *testing.T) {
	// Scenario:
	// 1. "reserve" and "charge" finish, both with compensations.
	// 2. "notify" finishes without a compensation.
	// 3. "ship" fails.
	// 4. Compensation runs refund then release; "notify" and "ship" are left alone.
	journal := &testutils.Journal{}

	def := definition.New("order").
		Step("reserve").Invoke(testutils.Set("reserved", true)).
		Compensate(journal.Local("release", testutils.Set("reserved", false))).
		Step("charge").Invoke(testutils.Set("charged", true)).
		Compensate(journal.Local("refund", testutils.Set("charged", false))).
		Step("notify").Invoke(testutils.Set("notified", true)).
		Step("ship").Invoke(testutils.Fail(errors.New("no courier"))).
		Compensate(journal.Local("unship", testutils.Set("shipped", false))).
		MustBuild()

	ctx := context.Background()
	exec := runtime.NewExecution(def)
	outcome, err := exec.Execute(ctx, runtime.Env{}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, outcome)

	var compensated []int
	err = exec.Compensate(ctx, runtime.Env{Hooks: domain.LifecycleHooks{
		OnStepCompensate: func(ctx context.Context, e *domain.StepEvent) { compensated = append(compensated, e.Step) },
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{"refund", "release"}, journal.Entries())
	assert.Equal(t, []int{1, 0}, compensated)
	assert.Equal(t, []domain.StepStatus{
		domain.StepCompensated, domain.StepCompensated, domain.StepFinished, domain.StepErrored,
	}, stepStatuses(exec))

	charged, _ := exec.Context.Get("charged")
	assert.Equal(t, false, charged)
	assert.Equal(t, domain.SagaErrored, exec.Status)
}

func TestExecution_CompensationFailureContinues(t *testing.T) {
	journal := &testutils.Journal{}
	def := definition.New("order").
		Step("a").Invoke(testutils.Set("a", 1)).
		Compensate(journal.Local("undo-a", testutils.Set("a", 0))).
		Step("b").Invoke(testutils.Set("b", 1)).
		Compensate(journal.Local("undo-b", testutils.Fail(errors.New("refund api down")))).
		Step("c").Invoke(testutils.Fail(errors.New("boom"))).
		MustBuild()

	ctx := context.Background()
	exec := runtime.NewExecution(def)
	_, err := exec.Execute(ctx, runtime.Env{}, nil)
	require.NoError(t, err)

	err = exec.Compensate(ctx, runtime.Env{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refund api down")

	assert.Equal(t, []string{"undo-b", "undo-a"}, journal.Entries())
	assert.Equal(t, domain.StepFinished, exec.Steps[1].Status)
	assert.Contains(t, exec.Steps[1].Error, "refund api down")
	assert.Equal(t, domain.StepCompensated, exec.Steps[0].Status)
}

func TestExecution_CompensateRequiresFailure(t *testing.T) {
	def := definition.New("ok").Step("a").Invoke(testutils.Set("a", 1)).MustBuild()
	exec := runtime.NewExecution(def)
	_, err := exec.Execute(context.Background(), runtime.Env{}, nil)
	require.NoError(t, err)

	err = exec.Compensate(context.Background(), runtime.Env{})
	assert.ErrorIs(t, err, runtime.ErrNotCompensable)
}
