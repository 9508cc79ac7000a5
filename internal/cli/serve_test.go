package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/sagaflow/internal/logging"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestRouter_OpsEndpointsAndReplyIngress(t *testing.T) {
	commands := make(chan domain.Command, 1)
	webhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cmd domain.Command
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmd))
		commands <- cmd
		w.WriteHeader(http.StatusAccepted)
	}))
	defer webhook.Close()

	cfg := defaultConfig(t)
	cfg.Store.Driver = "memory"
	cfg.Broker.Driver = "http"
	cfg.Broker.HTTPEndpoint = webhook.URL + "/"

	app, err := Build(context.Background(), cfg, registry.New(remoteSaga()), logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	srv := httptest.NewServer(NewRouter(app))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	listening := make(chan error, 1)
	go func() { listening <- app.Manager.Listen(ctx, app.Subscriber) }()
	defer func() {
		cancel()
		assert.NoError(t, <-listening)
	}()

	code, body := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	code, body = get(t, srv.URL+"/sagas/")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, body)

	id, err := app.Manager.Start(context.Background(), "order", nil)
	require.NoError(t, err)
	cmd := <-commands
	assert.Equal(t, id, cmd.CorrelationID)

	code, body = get(t, srv.URL+"/sagas/"+id)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"paused"`)

	code, _ = get(t, srv.URL+"/sagas/missing")
	assert.Equal(t, http.StatusNotFound, code)

	reply, err := json.Marshal(domain.ReplyFor(cmd, map[string]any{"id": "r-1"}))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		resp, err := http.Post(srv.URL+"/replies/"+cfg.Broker.ReplyTopic, "application/json", strings.NewReader(string(reply)))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusAccepted
	}, time.Second, 10*time.Millisecond, "ingress accepts the reply once the manager listens")

	code, _ = get(t, srv.URL+"/sagas/"+id)
	assert.Equal(t, http.StatusNotFound, code, "finished executions are deleted")

	code, body = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `sagaflow_saga_events_total{event="saga_finish",saga="order"} 1`)
}
