package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvishq/jarvis/internal/agent"
	"github.com/jarvishq/jarvis/internal/config"
	"github.com/jarvishq/jarvis/internal/eventbus"
	"github.com/jarvishq/jarvis/internal/gateway"
	"github.com/jarvishq/jarvis/internal/outcome"
	projectrepo "github.com/jarvishq/jarvis/internal/project/repositoryimpl"
	"github.com/jarvishq/jarvis/internal/pushnotification"
	pushsubrepo "github.com/jarvishq/jarvis/internal/pushsubscription/repositoryimpl"
	"github.com/jarvishq/jarvis/internal/scheduler"
	"github.com/jarvishq/jarvis/internal/task"
	"github.com/jarvishq/jarvis/pkg/storage"
)

type idleGateway struct{}

func (idleGateway) IsConnected() bool { return false }
func (idleGateway) Prompt(ctx context.Context, agentID, sessionKey, prompt string) (string, error) {
	return "", nil
}
func (idleGateway) SendNotice(ctx context.Context, agentID, message string) error { return nil }

type apiFixture struct {
	store  *task.Store
	sched  *scheduler.Scheduler
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	bus := eventbus.New()
	store := task.NewStore(nil, bus)
	agents := agent.NewRegistry()
	pushRepo := pushsubrepo.NewYAMLRepository(local)
	pushEnv := &config.PushEnv{}

	gw, err := gateway.NewClient(&config.GatewayEnv{
		Host:        "127.0.0.1",
		Port:        1,
		Token:       "t",
		OperatorKey: "8d0be9cbe4bdbb6fd02ed1d9c9b4b80f2fa9f25c040e20d2a91d38e54cf19e28",
	}, bus)
	require.NoError(t, err)

	sched := scheduler.New(store, idleGateway{}, outcome.NewRouter(store, agents, nil), bus, time.Second, "jarvis")

	env := &config.Env{}
	env.PushEnv = *pushEnv
	srv := NewServer(env, store, projectrepo.NewJSONRepository(local), agents, gw, sched,
		pushRepo, pushnotification.NewSender(pushEnv, pushRepo))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &apiFixture{store: store, sched: sched, server: ts}
}

func (f *apiFixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reqBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskLifecycleOverAPI(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/api/tasks", map[string]any{
		"title":    "ship the feature",
		"priority": "high",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[task.Task](t, resp)
	assert.Equal(t, task.StatusScheduled, created.Status)
	assert.Equal(t, "dev", created.AssignedAgentID, "unassigned tasks go to the default agent")

	resp = f.request(t, http.MethodGet, "/api/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/api/tasks/"+created.ID+"/move", map[string]string{"status": "queued"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decode[task.Task](t, resp)
	assert.Equal(t, task.StatusQueued, moved.Status)

	resp = f.request(t, http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{"title": "ship it properly"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[task.Task](t, resp)
	assert.Equal(t, "ship it properly", updated.Title)

	resp = f.request(t, http.MethodGet, "/api/tasks?status=queued", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decode[[]*task.Task](t, resp)
	require.Len(t, listed, 1)

	resp = f.request(t, http.MethodDelete, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTaskValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/api/tasks", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/api/tasks", map[string]any{"title": "x", "priority": "critical"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMoveRejectsUnknownStatus(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodPost, "/api/tasks", map[string]any{"title": "movable"})
	created := decode[task.Task](t, resp)

	resp = f.request(t, http.MethodPost, "/api/tasks/"+created.ID+"/move", map[string]string{"status": "limbo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownStatusFilterRejected(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodGet, "/api/tasks?status=limbo", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.request(t, http.MethodPost, "/api/tasks", map[string]any{"title": "pending work"})

	resp := f.request(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decode[map[string]any](t, resp)
	gatewayState := status["gateway"].(map[string]any)
	assert.Equal(t, "disconnected", gatewayState["state"])
	assert.Equal(t, false, status["paused"])
	assert.Equal(t, float64(1), status["taskCounts"].(map[string]any)["scheduled"])
}

func TestPauseAndResume(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.request(t, http.MethodPost, "/api/execution/pause", map[string]string{"reason": "maintenance window"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.True(t, f.sched.IsPaused())

	resp = f.request(t, http.MethodGet, "/api/status", nil)
	status := decode[map[string]any](t, resp)
	assert.Equal(t, true, status["paused"])
	assert.Equal(t, "maintenance window", status["pauseReason"])

	resp = f.request(t, http.MethodPost, "/api/execution/resume", map[string]string{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.False(t, f.sched.IsPaused())
}

func TestListAgents(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	agents := decode[[]*agent.Agent](t, resp)
	assert.NotEmpty(t, agents)
}

func TestPushSubscriptionLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	sub := map[string]any{
		"endpoint": "https://push.example.com/sub-1",
		"keys":     map[string]string{"p256dh": "pk", "auth": "ak"},
	}
	resp := f.request(t, http.MethodPost, "/api/push/subscriptions", sub)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Re-subscribing the same endpoint is accepted without a duplicate.
	resp = f.request(t, http.MethodPost, "/api/push/subscriptions", sub)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.request(t, http.MethodDelete, "/api/push/subscriptions",
		map[string]string{"endpoint": "https://push.example.com/sub-1"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestVAPIDKeyUnconfigured(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodGet, "/api/push/vapid-key", nil)
	assert.GreaterOrEqual(t, resp.StatusCode, 400)
}

func TestUnknownAPIRouteIsJSON404(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.request(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}
