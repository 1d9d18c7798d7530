package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mohammad-safakhou/cortex/internal/mcp"
	"github.com/mohammad-safakhou/cortex/internal/mcp/mcptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var numberPair = mcp.ObjectSchema(map[string]any{
	"a": map[string]any{"type": "number"},
	"b": map[string]any{"type": "number"},
}, "a", "b")

func mathServer() *mcp.Server {
	srv := mcp.NewServer("math", "test")
	srv.Register(mcp.Tool{Name: "add", Description: "Add two numbers", InputSchema: numberPair},
		func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := mcp.AsFloat(args["a"])
			b, _ := mcp.AsFloat(args["b"])
			return a + b, nil
		})
	srv.Register(mcp.Tool{Name: "divide", Description: "Divide a by b", InputSchema: numberPair},
		func(ctx context.Context, args map[string]any) (any, error) {
			a, _ := mcp.AsFloat(args["a"])
			b, _ := mcp.AsFloat(args["b"])
			if b == 0 {
				return nil, errors.New("division by zero")
			}
			return a / b, nil
		})
	srv.Register(mcp.Tool{Name: "sleep"}, func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	return srv
}

func echoServer(name string) *mcp.Server {
	srv := mcp.NewServer(name, "test")
	srv.Register(mcp.Tool{Name: "echo", Description: "echo from " + name},
		func(ctx context.Context, args map[string]any) (any, error) {
			return name, nil
		})
	srv.Register(mcp.Tool{Name: name + "_only"},
		func(ctx context.Context, args map[string]any) (any, error) {
			return name, nil
		})
	return srv
}

func newRegistry(t *testing.T, l Launcher, opts ...Option) *Registry {
	t.Helper()
	reg, err := New(l, opts...)
	require.NoError(t, err)
	return reg
}

func descriptors(ids ...string) []ServerDescriptor {
	out := make([]ServerDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, ServerDescriptor{ID: id, Command: id, Description: id + " server"})
	}
	return out
}

func TestInitializeExcludesFailingServers(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	l.Fail("broken", errors.New("exec: not found"))

	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math", "broken")))

	cat := reg.Catalog()
	require.Equal(t, int64(1), cat.Version)
	require.Equal(t, 3, cat.Len())
	require.Equal(t, 1, cat.LiveServers())
	require.NotEmpty(t, cat.Checksum)

	statuses := cat.Servers()
	require.Len(t, statuses, 2)
	require.True(t, statuses[0].Live)
	require.Equal(t, []string{"add", "divide", "sleep"}, statuses[0].Tools)
	require.False(t, statuses[1].Live)
	require.Contains(t, statuses[1].Error, "exec: not found")

	summaries := cat.Summaries()
	require.Len(t, summaries, 1)
	require.Equal(t, "math", summaries[0].ID)
	require.Equal(t, int64(0), l.Live())
}

func TestInitializeRequiresServers(t *testing.T) {
	reg := newRegistry(t, mcptest.NewLauncher())
	require.ErrorIs(t, reg.Initialize(context.Background(), nil), ErrNoServers)
}

func TestCollisionKeepsFirstConfiguredServer(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("alpha", echoServer("alpha"))
	l.Add("beta", echoServer("beta"))

	for i := 0; i < 5; i++ {
		reg := newRegistry(t, l)
		require.NoError(t, reg.Initialize(context.Background(), descriptors("beta", "alpha")))
		td, ok := reg.Catalog().Tool("echo")
		require.True(t, ok)
		require.Equal(t, "beta", td.ServerID)

		res, err := reg.Call(context.Background(), "echo", nil)
		require.NoError(t, err)
		require.JSONEq(t, `{"result":"beta"}`, res.Text())
	}
}

func TestCallSpawnsFreshWorkerPerCall(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math")))
	before := l.Starts()

	for i := 0; i < 3; i++ {
		res, err := reg.Call(context.Background(), "add", map[string]any{"a": 2, "b": 2})
		require.NoError(t, err)
		require.True(t, res.Success)
		require.Equal(t, "math", res.ServerID)
		require.NotEmpty(t, res.CorrelationID)
		require.JSONEq(t, `{"result":4}`, res.Text())
	}
	require.Equal(t, before+3, l.Starts())
	require.Equal(t, int64(0), l.Live())
}

func TestCallUnknownToolLaunchesNothing(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math")))
	before := l.Starts()

	_, err := reg.Call(context.Background(), "multiply", map[string]any{"a": 1, "b": 2})
	require.ErrorIs(t, err, ErrToolNotFound)
	require.False(t, Retryable(err))
	require.Equal(t, before, l.Starts())
}

func TestCallSchemaViolationLaunchesNothing(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math")))
	before := l.Starts()

	_, err := reg.Call(context.Background(), "add", map[string]any{"a": 1})
	require.ErrorIs(t, err, ErrSchemaValidation)

	_, err = reg.Call(context.Background(), "add", map[string]any{"a": "1", "b": 2})
	require.ErrorIs(t, err, ErrSchemaValidation)
	require.Equal(t, before, l.Starts())
}

func TestCallToolErrorIsUnsuccessfulResult(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math")))

	res, err := reg.Call(context.Background(), "divide", map[string]any{"a": 1, "b": 0})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "division by zero", res.Error)
}

func TestCallServerGoneIsUnavailable(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math")))

	l.Fail("math", errors.New("crashed"))
	_, err := reg.Call(context.Background(), "add", map[string]any{"a": 1, "b": 2})
	require.ErrorIs(t, err, ErrServerUnavailable)
	require.True(t, Retryable(err))

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	require.Equal(t, "math", callErr.ServerID)
}

func TestCallTimeoutIsUnavailableAndReleasesWorker(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	reg := newRegistry(t, l, WithCallTimeout(50*time.Millisecond))
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math")))

	started := time.Now()
	_, err := reg.Call(context.Background(), "sleep", nil)
	require.ErrorIs(t, err, ErrServerUnavailable)
	require.Contains(t, err.Error(), "timed out")
	require.Less(t, time.Since(started), 2*time.Second)
	require.Eventually(t, func() bool { return l.Live() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCallCancelledByCaller(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math")))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := reg.Call(ctx, "sleep", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, Retryable(err))
	require.Eventually(t, func() bool { return l.Live() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDeadServerToolsAreNotFound(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("alpha", echoServer("alpha"))
	l.Fail("beta", errors.New("boom"))
	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("alpha", "beta")))

	require.Empty(t, reg.Catalog().ToolsForServers([]string{"beta"}))
	_, err := reg.Call(context.Background(), "beta_only", nil)
	require.ErrorIs(t, err, ErrToolNotFound)

	res, err := reg.Call(context.Background(), "alpha_only", nil)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestReloadSwapsCatalogAndBumpsVersion(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("alpha", echoServer("alpha"))
	l.Add("beta", echoServer("beta"))
	var versions []int64
	reg := newRegistry(t, l, WithMetrics(Metrics{Catalog: func(v int64, live, tools int) { versions = append(versions, v) }}))

	require.NoError(t, reg.Initialize(context.Background(), descriptors("alpha")))
	first := reg.Catalog()
	_, err := reg.Call(context.Background(), "beta_only", nil)
	require.ErrorIs(t, err, ErrToolNotFound)

	require.NoError(t, reg.Reload(context.Background(), descriptors("alpha", "beta")))
	second := reg.Catalog()
	require.Equal(t, first.Version+1, second.Version)
	require.NotEqual(t, first.Checksum, second.Checksum)
	require.Equal(t, 2, first.Len(), "old snapshot must not change")

	res, err := reg.Call(context.Background(), "beta_only", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"result":"beta"}`, res.Text())
	require.Equal(t, []int64{1, 2}, versions)
}

func TestConcurrentCallsDuringReload(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	var mu sync.Mutex
	outcomes := map[string]int{}
	reg := newRegistry(t, l, WithMetrics(Metrics{ToolCall: func(tool, server, outcome string, took time.Duration) {
		mu.Lock()
		outcomes[outcome]++
		mu.Unlock()
	}}))
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math")))

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := reg.Call(context.Background(), "add", map[string]any{"a": i, "b": 1})
			if err != nil {
				errs <- err
				return
			}
			if want := fmt.Sprintf(`{"result":%d}`, i+1); res.Text() != want {
				errs <- fmt.Errorf("got %s want %s", res.Text(), want)
			}
		}(i)
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Reload(context.Background(), descriptors("math")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(4), reg.Catalog().Version)
	require.Equal(t, 16, outcomes[OutcomeOK])
	require.Equal(t, int64(0), l.Live())
}

func TestCatalogHelpers(t *testing.T) {
	l := mcptest.NewLauncher()
	l.Add("math", mathServer())
	l.Add("alpha", echoServer("alpha"))
	reg := newRegistry(t, l)
	require.NoError(t, reg.Initialize(context.Background(), descriptors("math", "alpha")))
	cat := reg.Catalog()

	require.NoError(t, cat.Require("add", "echo"))
	require.ErrorIs(t, cat.Require("add", "multiply"), ErrToolMissing)

	mathTools := cat.ToolsForServers([]string{" math "})
	require.Len(t, mathTools, 3)

	filtered := FilterByHint(cat.Tools(), "use divide please")
	require.Len(t, filtered, 1)
	require.Equal(t, "divide", filtered[0].Name)
	require.Len(t, FilterByHint(cat.Tools(), "nothing matches"), cat.Len())

	require.Equal(t, "No tools available.", SummarizeTools(nil))
	require.Equal(t, "- add: Add two numbers\n- sleep: No description provided.",
		SummarizeTools([]ToolDescriptor{mathTools[0], mathTools[2]}))
}

func TestComputeChecksumStable(t *testing.T) {
	td := ToolDescriptor{Name: "add", Description: "Add", ServerID: "math", InputSchema: numberPair}
	a, err := ComputeChecksum(td)
	require.NoError(t, err)
	td.Checksum = "ignored"
	b, err := ComputeChecksum(td)
	require.NoError(t, err)
	require.Equal(t, a, b)
	td.ServerID = "other"
	c, err := ComputeChecksum(td)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
