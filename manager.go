package sagaflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/internal/runtime"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
	"github.com/aretw0/sagaflow/pkg/registry"
	"github.com/aretw0/sagaflow/pkg/session"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Manager is the public entry point of the engine.
// It starts and resumes executions and keeps storage in step with their outcome.
type Manager struct {
	storage  *runtime.Storage
	registry *registry.Registry
	locks    *session.Locks
	request  *runtime.RequestExecutor

	sender     ports.CommandSender
	replyTopic string
	locker     ports.DistributedLocker
	lockTTL    time.Duration
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
	tracer     trace.Tracer
	compensate bool

	storeAttempts uint64
	storeBackoff  time.Duration
	sendAttempts  uint64
	sendBackoff   time.Duration
}

// Option defines a functional option for configuring the Manager.
type Option func(*Manager)

// WithSender sets the broker used by remote steps.
// Without it any remote step fails with domain.ErrBrokerNotProvided.
func WithSender(sender ports.CommandSender) Option {
	return func(m *Manager) {
		m.sender = sender
	}
}

// WithReplyTopic sets the topic stamped on every command as the reply destination.
func WithReplyTopic(topic string) Option {
	return func(m *Manager) {
		m.replyTopic = topic
	}
}

// WithLocker enables distributed locking across manager replicas.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(m *Manager) {
		m.hooks = m.hooks.Combine(hooks)
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTracer sets the tracer used for run and step spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithCompensation makes the manager run the compensations of finished steps,
// in reverse order, when an execution fails.
func WithCompensation() Option {
	return func(m *Manager) {
		m.compensate = true
	}
}

// WithStoreRetry sets how often a failed storage write is retried and the initial backoff.
// Conflicts are never retried.
func WithStoreRetry(attempts uint64, backoff time.Duration) Option {
	return func(m *Manager) {
		m.storeAttempts = attempts
		m.storeBackoff = backoff
	}
}

// WithSendRetry retries failed command sends before the remote step fails.
// Zero attempts, the default, sends once.
func WithSendRetry(attempts uint64, backoff time.Duration) Option {
	return func(m *Manager) {
		m.sendAttempts = attempts
		m.sendBackoff = backoff
	}
}

// New creates a Manager over store and the definitions in reg.
func New(store ports.ExecutionStore, reg *registry.Registry, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, domain.ErrStoreNotProvided
	}
	if reg == nil {
		reg = registry.New()
	}

	m := &Manager{
		registry:      reg,
		replyTopic:    DefaultReplyTopic,
		lockTTL:       session.DefaultLockTTL,
		logger:        logging.NewNop(),
		tracer:        otel.Tracer("github.com/aretw0/sagaflow"),
		storeAttempts: 3,
		storeBackoff:  50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sender != nil {
		sender := m.sender
		if m.sendAttempts > 0 {
			sender = &retrySender{next: sender, attempts: m.sendAttempts, backoff: m.sendBackoff, logger: m.logger}
		}
		req, err := runtime.NewRequestExecutor(sender, m.replyTopic)
		if err != nil {
			return nil, err
		}
		m.request = req
	}

	m.storage = runtime.NewStorage(store, reg)
	lockOpts := []session.Option{session.WithLogger(m.logger), session.WithTTL(m.lockTTL)}
	if m.locker != nil {
		lockOpts = append(lockOpts, session.WithLocker(m.locker))
	}
	m.locks = session.NewLocks(lockOpts...)

	return m, nil
}

// RunRequest selects what Run does. Exactly one of Name or Reply must be set.
type RunRequest struct {
	// Name starts a new execution of the named definition.
	Name string
	// Reply resumes the execution it correlates with.
	Reply *domain.Reply

	// Context seeds a new execution. Ignored when resuming.
	Context *domain.SagaContext
	// User is propagated into every command of a new execution. Ignored when resuming.
	User string
}

// Run starts or resumes an execution and returns its ID.
//
// A paused or failed execution is stored; a finished one is deleted. A failed
// execution is not an error: it is logged and its ID returned so it can be
// inspected. Errors are returned for invalid requests, unknown names or
// correlations, replies that no step awaits, and storage failures.
func (m *Manager) Run(ctx context.Context, req RunRequest) (string, error) {
	switch {
	case req.Name != "" && req.Reply != nil, req.Name == "" && req.Reply == nil:
		return "", domain.ErrInvalidRun
	case req.Name != "":
		return m.start(ctx, req)
	default:
		return m.resume(ctx, *req.Reply)
	}
}

// Start runs a new execution of the named definition seeded with seed.
func (m *Manager) Start(ctx context.Context, name string, seed *domain.SagaContext) (string, error) {
	return m.Run(ctx, RunRequest{Name: name, Context: seed})
}

// Resume feeds reply to the execution it correlates with.
func (m *Manager) Resume(ctx context.Context, reply domain.Reply) (string, error) {
	return m.Run(ctx, RunRequest{Reply: &reply})
}

// HandleReply is a ports.ReplyHandler. Replies for unknown executions, for
// executions whose definition is missing or changed, and stale or duplicated
// replies are logged and acknowledged. Any other error is returned so the
// broker can redeliver.
func (m *Manager) HandleReply(ctx context.Context, reply domain.Reply) error {
	_, err := m.Resume(ctx, reply)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrExecutionNotFound), errors.Is(err, domain.ErrNoAwaitingStep):
		m.logger.WarnContext(ctx, "discarding reply",
			"saga_id", reply.CorrelationID,
			"service", reply.Service,
			"err", err,
		)
		return nil
	case errors.Is(err, domain.ErrDefinitionNotFound), errors.Is(err, runtime.ErrDefinitionMismatch):
		// Redelivery cannot help until the definition is deployed again.
		m.logger.ErrorContext(ctx, "discarding reply for an execution that cannot be loaded",
			"saga_id", reply.CorrelationID,
			"service", reply.Service,
			"err", err,
		)
		return nil
	default:
		return err
	}
}

// Listen consumes the reply topic until ctx is canceled.
func (m *Manager) Listen(ctx context.Context, sub ports.ReplySubscriber) error {
	return sub.Subscribe(ctx, m.replyTopic, m.HandleReply)
}

// Load returns the stored record of an execution.
func (m *Manager) Load(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	return m.storage.Records().Load(ctx, id)
}

// Compensate runs the compensations of a stored, failed execution and stores the result.
func (m *Manager) Compensate(ctx context.Context, id string) error {
	return m.locks.WithLock(ctx, id, func(ctx context.Context) error {
		exec, err := m.storage.Load(ctx, id)
		if err != nil {
			return err
		}
		compErr := exec.Compensate(ctx, m.env())
		if errors.Is(compErr, runtime.ErrNotCompensable) {
			return compErr
		}
		if err := m.persist(ctx, func(ctx context.Context) error {
			return m.storage.Store(ctx, exec)
		}); err != nil {
			return err
		}
		return compErr
	})
}

// ReplyTopic returns the topic replies are expected on.
func (m *Manager) ReplyTopic() string {
	return m.replyTopic
}

func (m *Manager) start(ctx context.Context, req RunRequest) (string, error) {
	def, err := m.registry.Get(req.Name)
	if err != nil {
		return "", err
	}

	opts := []runtime.Option{runtime.WithUser(req.User)}
	if req.Context != nil {
		opts = append(opts, runtime.WithContext(req.Context))
	}
	exec := runtime.NewExecution(def, opts...)

	// Held until the paused execution is stored, so an early reply waits for it.
	err = m.locks.WithLock(ctx, exec.ID, func(ctx context.Context) error {
		return m.drive(ctx, exec, nil)
	})
	return exec.ID, err
}

func (m *Manager) resume(ctx context.Context, reply domain.Reply) (string, error) {
	id := reply.CorrelationID
	if id == "" {
		return "", fmt.Errorf("%w: reply has no correlation id", domain.ErrExecutionNotFound)
	}

	err := m.locks.WithLock(ctx, id, func(ctx context.Context) error {
		exec, err := m.storage.Load(ctx, id)
		if err != nil {
			return err
		}
		return m.drive(ctx, exec, &reply)
	})
	return id, err
}

func (m *Manager) drive(ctx context.Context, exec *runtime.Execution, reply *domain.Reply) (err error) {
	ctx, span := m.tracer.Start(ctx, "saga.run", trace.WithAttributes(
		attribute.String("saga.id", exec.ID),
		attribute.String("saga.name", exec.Definition.Name()),
		attribute.Bool("saga.resume", reply != nil),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	env := m.env()
	outcome, err := exec.Execute(ctx, env, reply)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("saga.outcome", outcome.String()))

	switch outcome {
	case domain.OutcomePaused:
		m.logger.DebugContext(ctx, "saga paused",
			"saga_id", exec.ID, "saga", exec.Definition.Name(), "step", exec.ActiveStep)
		return m.persist(ctx, func(ctx context.Context) error {
			return m.storage.Store(ctx, exec)
		})

	case domain.OutcomeFailed:
		m.logger.WarnContext(ctx, "saga failed",
			"saga_id", exec.ID, "saga", exec.Definition.Name(), "step", exec.ActiveStep, "err", exec.Error)
		if m.compensate {
			if err := exec.Compensate(ctx, env); err != nil {
				m.logger.WarnContext(ctx, "saga compensation incomplete", "saga_id", exec.ID, "err", err)
			}
		}
		return m.persist(ctx, func(ctx context.Context) error {
			return m.storage.Store(ctx, exec)
		})

	case domain.OutcomeFinished:
		m.logger.DebugContext(ctx, "saga finished", "saga_id", exec.ID, "saga", exec.Definition.Name())
		if exec.Version == 0 {
			// Never stored: nothing to clean up.
			return nil
		}
		return m.persist(ctx, func(ctx context.Context) error {
			return m.storage.Delete(ctx, exec.ID)
		})
	}

	return fmt.Errorf("saga %s: unexpected outcome %v", exec.ID, outcome)
}

// persist retries transient storage failures with exponential backoff.
func (m *Manager) persist(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(m.storeAttempts, retry.NewExponential(m.storeBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || errors.Is(err, domain.ErrConflict) {
			return err
		}
		m.logger.WarnContext(ctx, "storage write failed, retrying", "err", err)
		return retry.RetryableError(err)
	})
}

func (m *Manager) env() runtime.Env {
	return runtime.Env{
		Request: m.request,
		Hooks:   m.hooks,
		Logger:  m.logger,
		Tracer:  m.tracer,
	}
}
