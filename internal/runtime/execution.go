package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type sagaTrigger string

const (
	triggerStart  sagaTrigger = "start"
	triggerPause  sagaTrigger = "pause"
	triggerResume sagaTrigger = "resume"
	triggerDone   sagaTrigger = "done"
	triggerAbort  sagaTrigger = "abort"
)

// Env carries the collaborators an execution needs while it runs.
// Request may be nil for definitions without remote steps.
type Env struct {
	Request *RequestExecutor
	Hooks   domain.LifecycleHooks
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

func (env Env) logger() *slog.Logger {
	if env.Logger == nil {
		return logging.NewNop()
	}
	return env.Logger
}

func (env Env) tracer() trace.Tracer {
	if env.Tracer == nil {
		return otel.Tracer("github.com/aretw0/sagaflow")
	}
	return env.Tracer
}

// Execution is a single run of a saga definition.
// Steps before ActiveStep are finished; steps after it are created.
type Execution struct {
	ID         string
	Definition *definition.Saga
	Steps      []*StepExecution
	Context    *domain.SagaContext
	Status     domain.SagaStatus
	ActiveStep int
	User       string
	Error      string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	fsm *stateless.StateMachine
}

// Option configures a new Execution.
type Option func(*Execution)

// WithID overrides the generated execution ID.
func WithID(id string) Option {
	return func(e *Execution) {
		e.ID = id
	}
}

// WithContext seeds the execution context.
func WithContext(sc *domain.SagaContext) Option {
	return func(e *Execution) {
		e.Context = sc.Clone()
	}
}

// WithUser sets the user propagated into every command.
func WithUser(user string) Option {
	return func(e *Execution) {
		e.User = user
	}
}

// NewExecution creates a fresh execution of def: status created, every step created.
func NewExecution(def *definition.Saga, opts ...Option) *Execution {
	now := time.Now().UTC()
	e := &Execution{
		ID:         uuid.NewString(),
		Definition: def,
		Steps:      make([]*StepExecution, def.Len()),
		Context:    domain.NewContext(),
		Status:     domain.SagaCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := range e.Steps {
		e.Steps[i] = newStepExecution(def.Step(i))
	}
	for _, opt := range opts {
		opt(e)
	}
	e.configure()
	return e
}

func (e *Execution) configure() {
	fsm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return e.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			e.Status = state.(domain.SagaStatus)
			return nil
		},
		stateless.FiringImmediate,
	)

	fsm.Configure(domain.SagaCreated).
		Permit(triggerStart, domain.SagaRunning)

	fsm.Configure(domain.SagaRunning).
		Permit(triggerPause, domain.SagaPaused).
		Permit(triggerDone, domain.SagaFinished).
		Permit(triggerAbort, domain.SagaErrored)

	fsm.Configure(domain.SagaPaused).
		Permit(triggerResume, domain.SagaRunning)

	fsm.Configure(domain.SagaFinished)
	fsm.Configure(domain.SagaErrored)

	e.fsm = fsm
}

func (e *Execution) fire(ctx context.Context, trigger sagaTrigger) error {
	if err := e.fsm.FireCtx(ctx, trigger); err != nil {
		return fmt.Errorf("saga %s: %s from %s: %w", e.ID, trigger, e.Status, err)
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Execute drives the execution as far as it can go.
//
// Without a reply it starts a created execution. With a reply it resumes the step
// paused on that reply. The returned error is reserved for protocol errors, which
// leave the execution untouched, and for broken internal invariants. Step failures
// are reported through domain.OutcomeFailed.
func (e *Execution) Execute(ctx context.Context, env Env, reply *domain.Reply) (domain.Outcome, error) {
	if reply == nil {
		if e.Status != domain.SagaCreated {
			return 0, &domain.ProtocolError{ExecutionID: e.ID, Reason: fmt.Sprintf("execution is %s, a reply is required to continue", e.Status)}
		}
		if err := e.fire(ctx, triggerStart); err != nil {
			return 0, err
		}
		e.emitSaga(ctx, env, domain.EventSagaStart, nil)
		return e.drive(ctx, env)
	}

	step, err := e.awaiting(*reply)
	if err != nil {
		return 0, err
	}
	if err := e.fire(ctx, triggerResume); err != nil {
		return 0, err
	}

	failed, err := e.respond(ctx, env, step, *reply)
	if err != nil {
		return 0, err
	}
	if failed {
		return domain.OutcomeFailed, nil
	}
	return e.drive(ctx, env)
}

// awaiting validates a reply without mutating anything.
func (e *Execution) awaiting(reply domain.Reply) (*StepExecution, error) {
	reject := func(reason string) error {
		return &domain.ProtocolError{ExecutionID: e.ID, Reason: reason}
	}
	if reply.CorrelationID != e.ID {
		return nil, reject(fmt.Sprintf("reply correlates with %q", reply.CorrelationID))
	}
	if e.Status != domain.SagaPaused {
		return nil, reject(fmt.Sprintf("execution is %s", e.Status))
	}
	if e.ActiveStep >= len(e.Steps) {
		return nil, reject("no active step")
	}
	step := e.Steps[e.ActiveStep]
	if step.Status != domain.StepPausedOnReply {
		return nil, reject(fmt.Sprintf("active step is %s", step.Status))
	}
	// Records stored without tokens accept any reply for the paused step.
	if step.Token != "" && reply.Token != step.Token {
		return nil, reject("reply token does not match the pending request")
	}
	return step, nil
}

// drive runs the remaining steps in order from ActiveStep.
func (e *Execution) drive(ctx context.Context, env Env) (domain.Outcome, error) {
	for e.ActiveStep < len(e.Steps) {
		step := e.Steps[e.ActiveStep]

		if step.Definition.IsRemote() {
			failed, err := e.request(ctx, env, step)
			if err != nil {
				return 0, err
			}
			if failed {
				return domain.OutcomeFailed, nil
			}
			if err := e.fire(ctx, triggerPause); err != nil {
				return 0, err
			}
			e.emitSaga(ctx, env, domain.EventSagaPause, nil)
			return domain.OutcomePaused, nil
		}

		failed, err := e.local(ctx, env, step)
		if err != nil {
			return 0, err
		}
		if failed {
			return domain.OutcomeFailed, nil
		}
		e.ActiveStep++
	}

	if err := e.fire(ctx, triggerDone); err != nil {
		return 0, err
	}
	e.emitSaga(ctx, env, domain.EventSagaFinish, nil)
	return domain.OutcomeFinished, nil
}

func (e *Execution) local(ctx context.Context, env Env, step *StepExecution) (bool, error) {
	if err := step.fire(ctx, triggerRunLocal); err != nil {
		return false, err
	}
	ctx, end := e.enterStep(ctx, env, step)

	partial, execErr := LocalExecutor{}.Exec(ctx, e.ActiveStep, step.Definition.Invoke, e.Context)
	end(execErr)
	if execErr != nil {
		return true, e.abort(ctx, env, step, execErr)
	}

	e.Context.Merge(partial)
	return false, step.fire(ctx, triggerFinish)
}

func (e *Execution) request(ctx context.Context, env Env, step *StepExecution) (bool, error) {
	if err := step.fire(ctx, triggerRunRequest); err != nil {
		return false, err
	}
	ctx, end := e.enterStep(ctx, env, step)

	var execErr error
	if env.Request == nil {
		execErr = &domain.ExecutorError{Step: e.ActiveStep, Cause: domain.ErrBrokerNotProvided}
	} else {
		step.Token = uuid.NewString()
		execErr = env.Request.Exec(ctx, e.ActiveStep, step.Definition.Request, e.Context, RequestMeta{
			ExecutionID: e.ID,
			User:        e.User,
			Token:       step.Token,
		})
	}
	end(execErr)
	if execErr != nil {
		return true, e.abort(ctx, env, step, execErr)
	}
	return false, step.fire(ctx, triggerAwaitReply)
}

func (e *Execution) respond(ctx context.Context, env Env, step *StepExecution, reply domain.Reply) (bool, error) {
	if err := step.fire(ctx, triggerRunResponse); err != nil {
		return false, err
	}
	ctx, end := e.enterStep(ctx, env, step)

	partial, execErr := ResponseExecutor{}.Exec(ctx, e.ActiveStep, step.Definition, e.Context, reply)
	end(execErr)
	if execErr != nil {
		return true, e.abort(ctx, env, step, execErr)
	}

	e.Context.Merge(partial)
	if err := step.fire(ctx, triggerFinish); err != nil {
		return false, err
	}
	e.ActiveStep++
	return false, nil
}

// abort marks step and execution errored. The returned error is only non-nil
// when the state machines reject the transition.
func (e *Execution) abort(ctx context.Context, env Env, step *StepExecution, cause error) error {
	if err := step.fail(ctx, cause); err != nil {
		return err
	}
	e.Error = cause.Error()
	if err := e.fire(ctx, triggerAbort); err != nil {
		return err
	}
	e.emitSaga(ctx, env, domain.EventSagaFail, cause)
	return nil
}

func (e *Execution) enterStep(ctx context.Context, env Env, step *StepExecution) (context.Context, func(error)) {
	index := e.ActiveStep
	ctx, span := env.tracer().Start(ctx, "saga.step",
		trace.WithAttributes(
			attribute.String("saga.id", e.ID),
			attribute.String("saga.name", e.Definition.Name()),
			attribute.Int("saga.step.index", index),
			attribute.String("saga.step.name", step.Definition.Name),
			attribute.String("saga.step.status", string(step.Status)),
		),
	)
	started := time.Now()

	if env.Hooks.OnStepEnter != nil {
		env.Hooks.OnStepEnter(ctx, e.stepEvent(domain.EventStepEnter, index, step, 0, nil))
	}
	env.logger().DebugContext(ctx, "step started",
		"saga_id", e.ID, "saga", e.Definition.Name(), "step", step.Definition.Name, "status", step.Status)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if env.Hooks.OnStepLeave != nil {
			env.Hooks.OnStepLeave(ctx, e.stepEvent(domain.EventStepLeave, index, step, time.Since(started), err))
		}
	}
}

func (e *Execution) stepEvent(typ domain.EventType, index int, step *StepExecution, d time.Duration, err error) *domain.StepEvent {
	return &domain.StepEvent{
		EventBase: domain.EventBase{
			Timestamp:   time.Now(),
			Type:        typ,
			ExecutionID: e.ID,
			SagaName:    e.Definition.Name(),
		},
		Step:     index,
		Remote:   step.Definition.IsRemote(),
		Status:   step.Status,
		Duration: d,
		Err:      err,
	}
}

func (e *Execution) emitSaga(ctx context.Context, env Env, typ domain.EventType, err error) {
	var hook func(context.Context, *domain.SagaEvent)
	switch typ {
	case domain.EventSagaStart:
		hook = env.Hooks.OnSagaStart
	case domain.EventSagaPause:
		hook = env.Hooks.OnSagaPause
	case domain.EventSagaFinish:
		hook = env.Hooks.OnSagaFinish
	case domain.EventSagaFail:
		hook = env.Hooks.OnSagaFail
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.SagaEvent{
		EventBase: domain.EventBase{
			Timestamp:   time.Now(),
			Type:        typ,
			ExecutionID: e.ID,
			SagaName:    e.Definition.Name(),
		},
		Status: e.Status,
		Err:    err,
	})
}

// ToRecord converts the execution into its persisted form.
func (e *Execution) ToRecord() *domain.ExecutionRecord {
	steps := make([]domain.StepRecord, len(e.Steps))
	for i, s := range e.Steps {
		steps[i] = s.record()
	}
	return &domain.ExecutionRecord{
		ID:         e.ID,
		SagaName:   e.Definition.Name(),
		Status:     e.Status,
		ActiveStep: e.ActiveStep,
		Context:    e.Context.Clone(),
		Steps:      steps,
		User:       e.User,
		Error:      e.Error,
		Version:    e.Version,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

// ErrDefinitionMismatch is returned when a stored record no longer fits its definition.
var ErrDefinitionMismatch = errors.New("stored execution does not match its definition")

// FromRecord rebuilds an execution from its persisted form and the definition it names.
func FromRecord(rec *domain.ExecutionRecord, def *definition.Saga) (*Execution, error) {
	if rec.SagaName != def.Name() {
		return nil, fmt.Errorf("%w: record names %q, definition is %q", ErrDefinitionMismatch, rec.SagaName, def.Name())
	}
	if len(rec.Steps) != def.Len() {
		return nil, fmt.Errorf("%w: %d stored steps, definition has %d", ErrDefinitionMismatch, len(rec.Steps), def.Len())
	}

	e := &Execution{
		ID:         rec.ID,
		Definition: def,
		Steps:      make([]*StepExecution, def.Len()),
		Context:    rec.Context.Clone(),
		Status:     rec.Status,
		ActiveStep: rec.ActiveStep,
		User:       rec.User,
		Error:      rec.Error,
		Version:    rec.Version,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	for i, sr := range rec.Steps {
		s := newStepExecution(def.Step(i))
		s.Status = sr.Status
		s.Token = sr.Token
		s.Error = sr.Error
		e.Steps[i] = s
	}
	e.configure()
	return e, nil
}
