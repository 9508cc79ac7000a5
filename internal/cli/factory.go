package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/sagaflow"
	"github.com/aretw0/sagaflow/internal/adapters/file"
	"github.com/aretw0/sagaflow/internal/adapters/postgres"
	"github.com/aretw0/sagaflow/internal/config"
	httpAdapter "github.com/aretw0/sagaflow/pkg/adapters/http"
	"github.com/aretw0/sagaflow/pkg/adapters/kafka"
	"github.com/aretw0/sagaflow/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/sagaflow/pkg/adapters/redis"
	"github.com/aretw0/sagaflow/pkg/adapters/snssqs"
	"github.com/aretw0/sagaflow/pkg/observability"
	"github.com/aretw0/sagaflow/pkg/persistence/middleware"
	"github.com/aretw0/sagaflow/pkg/ports"
	"github.com/aretw0/sagaflow/pkg/registry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	backend "github.com/redis/go-redis/v9"
)

// App bundles everything a command needs, built from configuration.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *registry.Registry

	Store      ports.ExecutionStore
	Sender     ports.CommandSender
	Subscriber ports.ReplySubscriber
	Locker     ports.DistributedLocker
	// Ingress is set by the http broker; serve mounts it under /replies.
	Ingress *httpAdapter.Ingress

	Metrics *prometheus.Registry
	Manager *sagaflow.Manager

	closers []func() error
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Build wires store, broker, locker, metrics and manager from cfg.
// On error everything built so far is closed.
func Build(ctx context.Context, cfg *config.Config, reg *registry.Registry, logger *slog.Logger) (app *App, err error) {
	if reg == nil {
		reg = registry.New()
	}
	app = &App{Config: cfg, Logger: logger, Registry: reg}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	store, err := buildStore(ctx, app)
	if err != nil {
		return nil, err
	}
	if app.Store, err = wrapStore(cfg.Store, store); err != nil {
		return nil, err
	}

	if err := buildBroker(ctx, app); err != nil {
		return nil, err
	}

	if cfg.Lock.Enabled {
		client := app.redisClient(cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB, store)
		app.Locker = redisAdapter.NewLocker(client, cfg.Store.RedisPrefix)
	}

	app.Metrics = prometheus.NewRegistry()
	app.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(app.Metrics)
	if err != nil {
		return nil, fmt.Errorf("error registering metrics: %w", err)
	}

	opts := []sagaflow.Option{
		sagaflow.WithLogger(logger),
		sagaflow.WithSender(app.Sender),
		sagaflow.WithReplyTopic(cfg.Broker.ReplyTopic),
		sagaflow.WithLifecycleHooks(metrics.Hooks()),
		sagaflow.WithLifecycleHooks(observability.LoggingHooks(logger)),
		sagaflow.WithStoreRetry(cfg.Store.Retry.Attempts, cfg.Store.Retry.Backoff),
		sagaflow.WithSendRetry(cfg.Retry.Attempts, cfg.Retry.Backoff),
	}
	if app.Locker != nil {
		opts = append(opts, sagaflow.WithLocker(app.Locker), sagaflow.WithLockTTL(cfg.Lock.TTL))
	}
	if cfg.Saga.Compensate {
		opts = append(opts, sagaflow.WithCompensation())
	}

	if app.Manager, err = sagaflow.New(app.Store, reg, opts...); err != nil {
		return nil, fmt.Errorf("error initializing manager: %w", err)
	}
	return app, nil
}

func buildStore(ctx context.Context, app *App) (ports.ExecutionStore, error) {
	cfg := app.Config.Store
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(), nil
	case "file":
		return file.New(cfg.Path), nil
	case "redis":
		s := redisAdapter.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			redisAdapter.WithPrefix(cfg.RedisPrefix),
			redisAdapter.WithTTL(cfg.TTL),
		)
		app.onClose(s.Close)
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("error connecting to postgres: %w", err)
		}
		app.onClose(s.Close)
		if err := s.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("error migrating postgres: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// wrapStore applies PII masking before encryption so masked values never reach the ciphertext.
func wrapStore(cfg config.Store, store ports.ExecutionStore) (ports.ExecutionStore, error) {
	var mws []middleware.Middleware
	if len(cfg.MaskKeys) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.MaskKeys))
	}
	if cfg.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid store.encryption_key: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("invalid store.encryption_key: want 32 bytes, got %d", len(key))
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return middleware.Chain(store, mws...), nil
}

func buildBroker(ctx context.Context, app *App) error {
	cfg := app.Config.Broker
	switch cfg.Driver {
	case "memory":
		b := memory.NewBroker()
		app.Sender, app.Subscriber = b, b
	case "redis":
		client := app.redisClient(cfg.RedisAddr, "", 0, nil)
		s := redisAdapter.NewStream(client,
			redisAdapter.WithStreamPrefix(cfg.StreamPrefix),
			redisAdapter.WithGroup(cfg.Group, cfg.Consumer),
			redisAdapter.WithStreamLogger(app.Logger),
		)
		app.Sender, app.Subscriber = s, s
	case "kafka":
		sender := kafka.NewSender(cfg.KafkaBrokers)
		app.onClose(sender.Close)
		app.Sender = sender
		app.Subscriber = kafka.NewSubscriber(cfg.KafkaBrokers, cfg.Group, kafka.WithLogger(app.Logger))
	case "sns":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("error loading aws config: %w", err)
		}
		app.Sender = snssqs.NewSender(sns.NewFromConfig(awsCfg), snssqs.ARNPrefix(cfg.SNSTopicARN))
		app.Subscriber = snssqs.NewSubscriber(sqs.NewFromConfig(awsCfg), snssqs.QueueURLPrefix(cfg.SQSQueueURL),
			snssqs.WithLogger(app.Logger),
		)
	case "http":
		app.Sender = httpAdapter.NewSender(httpAdapter.URLPrefix(cfg.HTTPEndpoint))
		app.Ingress = httpAdapter.NewIngress(httpAdapter.WithLogger(app.Logger))
		app.Subscriber = app.Ingress
	default:
		return fmt.Errorf("unknown broker driver %q", cfg.Driver)
	}
	return nil
}

// redisClient reuses the client of a Redis store, else dials addr.
func (a *App) redisClient(addr, password string, db int, store ports.ExecutionStore) *backend.Client {
	if rs, ok := store.(*redisAdapter.Store); ok {
		return rs.Client()
	}
	client := backend.NewClient(&backend.Options{Addr: addr, Password: password, DB: db})
	a.onClose(client.Close)
	return client
}
