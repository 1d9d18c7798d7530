package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/mcp"
	"github.com/mohammad-safakhou/cortex/internal/mcp/mcptest"
	"github.com/mohammad-safakhou/cortex/internal/memory"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

var secret = []byte("test-secret")

func mathRegistry(t *testing.T) (*capability.Registry, []capability.ServerDescriptor, *mcptest.Launcher) {
	t.Helper()
	l := mcptest.NewLauncher()
	srv := mcp.NewServer("math", "test")
	srv.Register(mcp.Tool{Name: "add", Description: "Add two numbers"}, func(ctx context.Context, args map[string]any) (any, error) {
		a, _ := mcp.AsFloat(args["a"])
		b, _ := mcp.AsFloat(args["b"])
		return a + b, nil
	})
	l.Add("math", srv)
	reg, err := capability.New(l)
	require.NoError(t, err)
	servers := []capability.ServerDescriptor{{ID: "math", Command: "math", Description: "arithmetic"}}
	require.NoError(t, reg.Initialize(context.Background(), servers))
	return reg, servers, l
}

type stubRunner struct {
	res core.Result
	err error
	got string
}

func (s *stubRunner) Run(ctx context.Context, input string) (core.Result, error) {
	s.got = input
	return s.res, s.err
}

func token(t *testing.T, scopes ...string) string {
	t.Helper()
	tok, err := runtime.SignJWT("ops", secret, time.Minute, scopes...)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresRegistryAndSecret(t *testing.T) {
	_, err := New(Options{Secret: secret})
	require.Error(t, err)
	reg, _, _ := mathRegistry(t)
	_, err = New(Options{Registry: reg})
	require.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	reg, _, _ := mathRegistry(t)
	m := runtime.NewMetrics()
	srv, err := New(Options{Registry: reg, Secret: secret, Metrics: m.Handler()})
	require.NoError(t, err)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"live_servers":1`)

	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzWithoutLiveServers(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Fail("dead", errors.New("exec: not found"))
	reg, err := capability.New(l)
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(context.Background(), []capability.ServerDescriptor{{ID: "dead", Command: "dead"}}))

	srv, err := New(Options{Registry: reg, Secret: secret})
	require.NoError(t, err)
	rec := do(t, srv.Handler(), http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	reg, servers, l := mathRegistry(t)
	srv, err := New(Options{Registry: reg, Servers: servers, Secret: secret})
	require.NoError(t, err)
	h := srv.Handler()

	require.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/catalog", "", nil).Code)

	rec := do(t, h, http.MethodGet, "/v1/catalog", token(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cat CatalogResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cat))
	require.Equal(t, int64(1), cat.Version)
	require.Len(t, cat.Tools, 1)
	require.Equal(t, "add", cat.Tools[0].Name)
	require.Equal(t, "math", cat.Tools[0].ServerID)

	require.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/v1/catalog/reload", token(t), nil).Code)

	starts := l.Starts()
	rec = do(t, h, http.MethodPost, "/v1/catalog/reload", token(t, runtime.ScopeCatalogReload), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cat))
	require.Equal(t, int64(2), cat.Version)
	require.Greater(t, l.Starts(), starts)
	require.Equal(t, int64(2), reg.Catalog().Version)
}

func TestCatalogReloadWithoutServers(t *testing.T) {
	reg, _, _ := mathRegistry(t)
	srv, err := New(Options{Registry: reg, Secret: secret})
	require.NoError(t, err)
	rec := do(t, srv.Handler(), http.MethodPost, "/v1/catalog/reload", token(t, runtime.ScopeCatalogReload), nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, int64(1), reg.Catalog().Version)
}

func TestRunsEndpoint(t *testing.T) {
	reg, _, _ := mathRegistry(t)
	runner := &stubRunner{res: core.Result{
		SessionID: "2025/03/04/session-1-abcdef",
		State:     core.StateTerminatedExhausted,
		Answer:    core.SentinelAnswer,
		Reason:    core.ErrRunExhausted,
		Duration:  time.Second,
	}}
	srv, err := New(Options{Registry: reg, Secret: secret, Runner: runner})
	require.NoError(t, err)
	h := srv.Handler()

	require.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/v1/runs", token(t), RunRequest{Input: "x"}).Code)
	tok := token(t, ScopeRunsCreate)
	require.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/runs", tok, RunRequest{Input: "  "}).Code)

	rec := do(t, h, http.MethodPost, "/v1/runs", tok, RunRequest{Input: "what is 2 + 3"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "what is 2 + 3", runner.got)
	var out RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, core.SentinelAnswer, out.Answer)
	require.Equal(t, core.StateTerminatedExhausted, out.State)
	require.Equal(t, core.ErrRunExhausted.Error(), out.Reason)

	runner.err = core.ErrInputRejected
	require.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodPost, "/v1/runs", tok, RunRequest{Input: "x"}).Code)

	runner.err = context.Canceled
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/v1/runs", tok, RunRequest{Input: "x"}).Code)
}

func TestSessionsEndpoints(t *testing.T) {
	reg, _, _ := mathRegistry(t)
	store := memory.NewInMemory()
	id := "2025/03/04/session-1741064767-a1b2c3"
	require.NoError(t, store.Record(context.Background(), core.StepRecord{SessionID: id, Step: 0, Outcome: core.StepFinal, FinalAnswer: "5"}))

	srv, err := New(Options{Registry: reg, Secret: secret, Sessions: store})
	require.NoError(t, err)
	h := srv.Handler()
	tok := token(t, ScopeSessionsRead)

	rec := do(t, h, http.MethodGet, "/v1/sessions", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list SessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, []string{id}, list.Sessions)

	rec = do(t, h, http.MethodGet, "/v1/sessions/"+id, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []core.StepRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	require.Equal(t, "5", recs[0].FinalAnswer)

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/sessions/2025/01/01/none", tok, nil).Code)
	require.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/v1/sessions", token(t), nil).Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	reg, _, _ := mathRegistry(t)
	srv, err := New(Options{Registry: reg, Secret: secret})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, "127.0.0.1:0")
		done.Store(true)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	require.True(t, done.Load())
}

type countingRegistry struct {
	reloads atomic.Int64
	err     error
	cat     *capability.Catalog
}

func (c *countingRegistry) Catalog() *capability.Catalog { return c.cat }
func (c *countingRegistry) Reload(ctx context.Context, servers []capability.ServerDescriptor) error {
	c.reloads.Add(1)
	return c.err
}

func TestReloadScheduler(t *testing.T) {
	reg, _, _ := mathRegistry(t)
	counter := &countingRegistry{cat: reg.Catalog()}

	_, err := NewReloadScheduler("not a cron", counter, nil, nil)
	require.Error(t, err)

	s, err := NewReloadScheduler("*/5 * * * *", counter, nil, nil)
	require.NoError(t, err)
	from := time.Date(2025, 3, 4, 10, 2, 0, 0, time.UTC)
	require.Equal(t, time.Date(2025, 3, 4, 10, 5, 0, 0, time.UTC), s.Next(from))

	s.tick(context.Background())
	counter.err = errors.New("boom")
	s.tick(context.Background())
	require.Equal(t, int64(2), counter.reloads.Load())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
