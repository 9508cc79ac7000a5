package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventSagaStart      EventType = "saga_start"
	EventSagaPause      EventType = "saga_pause"
	EventSagaFinish     EventType = "saga_finish"
	EventSagaFail       EventType = "saga_fail"
	EventStepEnter      EventType = "step_enter"
	EventStepLeave      EventType = "step_leave"
	EventStepCompensate EventType = "step_compensate"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	SagaName    string    `json:"saga_name"`
}

// SagaEvent reports a change of the execution status.
type SagaEvent struct {
	EventBase
	Status SagaStatus `json:"status"`
	Err    error      `json:"-"`
}

// StepEvent reports a step entering or leaving one of its phases.
type StepEvent struct {
	EventBase
	Step     int           `json:"step"`
	Remote   bool          `json:"remote"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional.
type LifecycleHooks struct {
	OnSagaStart      func(context.Context, *SagaEvent)
	OnSagaPause      func(context.Context, *SagaEvent)
	OnSagaFinish     func(context.Context, *SagaEvent)
	OnSagaFail       func(context.Context, *SagaEvent)
	OnStepEnter      func(context.Context, *StepEvent)
	OnStepLeave      func(context.Context, *StepEvent)
	OnStepCompensate func(context.Context, *StepEvent)
}

// Combine returns hooks that call h first and then other.
func (h LifecycleHooks) Combine(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnSagaStart:      chainSaga(h.OnSagaStart, other.OnSagaStart),
		OnSagaPause:      chainSaga(h.OnSagaPause, other.OnSagaPause),
		OnSagaFinish:     chainSaga(h.OnSagaFinish, other.OnSagaFinish),
		OnSagaFail:       chainSaga(h.OnSagaFail, other.OnSagaFail),
		OnStepEnter:      chainStep(h.OnStepEnter, other.OnStepEnter),
		OnStepLeave:      chainStep(h.OnStepLeave, other.OnStepLeave),
		OnStepCompensate: chainStep(h.OnStepCompensate, other.OnStepCompensate),
	}
}

func chainSaga(a, b func(context.Context, *SagaEvent)) func(context.Context, *SagaEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *SagaEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}

func chainStep(a, b func(context.Context, *StepEvent)) func(context.Context, *StepEvent) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, e *StepEvent) {
		a(ctx, e)
		b(ctx, e)
	}
}
