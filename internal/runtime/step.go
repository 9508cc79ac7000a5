package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/qmuntal/stateless"
)

type stepTrigger string

const (
	triggerRunLocal    stepTrigger = "run_local"
	triggerRunRequest  stepTrigger = "run_request"
	triggerAwaitReply  stepTrigger = "await_reply"
	triggerRunResponse stepTrigger = "run_response"
	triggerFinish      stepTrigger = "finish"
	triggerFail        stepTrigger = "fail"
	triggerCompensate  stepTrigger = "compensate"
)

// StepExecution is the runtime state of one step of a saga execution.
type StepExecution struct {
	Definition *definition.Step
	Status     domain.StepStatus

	// Token correlates the last published command with its reply.
	Token string
	Error string

	fsm *stateless.StateMachine
}

func newStepExecution(def *definition.Step) *StepExecution {
	s := &StepExecution{
		Definition: def,
		Status:     domain.StepCreated,
	}
	s.configure()
	return s
}

// configure binds the status field to a state machine so only the documented transitions are possible.
func (s *StepExecution) configure() {
	fsm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return s.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			s.Status = state.(domain.StepStatus)
			return nil
		},
		stateless.FiringImmediate,
	)

	fsm.Configure(domain.StepCreated).
		Permit(triggerRunLocal, domain.StepRunningLocal).
		Permit(triggerRunRequest, domain.StepRunningRequest).
		Permit(triggerFail, domain.StepErrored)

	fsm.Configure(domain.StepRunningLocal).
		Permit(triggerFinish, domain.StepFinished).
		Permit(triggerFail, domain.StepErrored)

	fsm.Configure(domain.StepRunningRequest).
		Permit(triggerAwaitReply, domain.StepPausedOnReply).
		Permit(triggerFail, domain.StepErrored)

	fsm.Configure(domain.StepPausedOnReply).
		Permit(triggerRunResponse, domain.StepRunningResponse).
		Permit(triggerFail, domain.StepErrored)

	fsm.Configure(domain.StepRunningResponse).
		Permit(triggerFinish, domain.StepFinished).
		Permit(triggerFail, domain.StepErrored)

	fsm.Configure(domain.StepFinished).
		Permit(triggerCompensate, domain.StepCompensated)

	fsm.Configure(domain.StepErrored)
	fsm.Configure(domain.StepCompensated)

	s.fsm = fsm
}

func (s *StepExecution) fire(ctx context.Context, trigger stepTrigger) error {
	if err := s.fsm.FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("step %q: %s from %s: %w", s.Definition.Name, trigger, s.Status, err)
	}
	return nil
}

// fail moves the step to errored and records the cause.
func (s *StepExecution) fail(ctx context.Context, cause error) error {
	s.Error = cause.Error()
	return s.fire(ctx, triggerFail)
}

func (s *StepExecution) record() domain.StepRecord {
	return domain.StepRecord{Status: s.Status, Token: s.Token, Error: s.Error}
}
