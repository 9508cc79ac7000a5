package cli

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/sagaflow/internal/config"
	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/internal/testutils"
	"github.com/aretw0/sagaflow/pkg/adapters/memory"
	redisAdapter "github.com/aretw0/sagaflow/pkg/adapters/redis"
	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func remoteSaga() *definition.Saga {
	return definition.New("order").
		Step("reserve").Invoke(testutils.Set("card", "4111-1111")).
		Step("charge").Request(testutils.Send("payments.charge")).OnReply(testutils.Store("receipt")).
		MustBuild()
}

func TestBuild_Memory(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Store.Driver = "memory"

	app, err := Build(context.Background(), cfg, registry.New(remoteSaga()), logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	assert.IsType(t, &memory.Broker{}, app.Sender)
	assert.Same(t, app.Sender, app.Subscriber)
	assert.Nil(t, app.Locker)

	id, err := app.Manager.Start(context.Background(), "order", nil)
	require.NoError(t, err)
	rec, err := app.Store.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.SagaPaused, rec.Status)

	families, err := app.Metrics.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "sagaflow_saga_events_total")
	assert.Contains(t, names, "go_goroutines")
}

func TestBuild_FileStoreWithEncryptionAndMasking(t *testing.T) {
	cfg := defaultConfig(t)
	dir := t.TempDir()
	cfg.Store.Path = dir
	cfg.Store.MaskKeys = []string{"card"}
	cfg.Store.EncryptionKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	app, err := Build(context.Background(), cfg, registry.New(remoteSaga()), logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	id, err := app.Manager.Start(context.Background(), "order", nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, id+".json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "__encrypted__")
	assert.NotContains(t, string(raw), "4111")

	rec, err := app.Manager.Load(context.Background(), id)
	require.NoError(t, err)
	card, _ := rec.Context.Get("card")
	assert.Equal(t, "***", card)
}

func TestBuild_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := defaultConfig(t)
	cfg.Store.Driver = "redis"
	cfg.Store.RedisAddr = mr.Addr()
	cfg.Broker.Driver = "redis"
	cfg.Broker.RedisAddr = mr.Addr()
	cfg.Lock.Enabled = true

	app, err := Build(context.Background(), cfg, registry.New(remoteSaga()), logging.NewNop())
	require.NoError(t, err)

	assert.IsType(t, &redisAdapter.Stream{}, app.Sender)
	assert.IsType(t, &redisAdapter.Locker{}, app.Locker)

	id, err := app.Manager.Start(context.Background(), "order", nil)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cfg.Store.RedisPrefix+id))

	entries, err := mr.Stream("payments.charge")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.NoError(t, app.Close())
}

func TestBuild_KafkaDoesNotDial(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Store.Driver = "memory"
	cfg.Broker.Driver = "kafka"
	cfg.Broker.KafkaBrokers = []string{"127.0.0.1:1"}

	app, err := Build(context.Background(), cfg, nil, logging.NewNop())
	require.NoError(t, err)
	assert.NoError(t, app.Close())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"store driver", func(c *config.Config) { c.Store.Driver = "cassandra" }, "unknown store driver"},
		{"broker driver", func(c *config.Config) { c.Broker.Driver = "carrier-pigeon" }, "unknown broker driver"},
		{"key encoding", func(c *config.Config) { c.Store.EncryptionKey = "not base64!" }, "encryption_key"},
		{"key length", func(c *config.Config) {
			c.Store.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}, "want 32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			cfg.Store.Driver = "memory"
			tt.mutate(cfg)

			app, err := Build(context.Background(), cfg, nil, logging.NewNop())
			assert.Nil(t, app)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

// chdir changes the working directory for the duration of the test,
// restoring the previous one on cleanup (equivalent to testing.T.Chdir).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
