package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
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

func newMathServer() *mcp.Server {
	srv := mcp.NewServer("math", "test")
	srv.Register(mcp.Tool{
		Name:        "add",
		Description: "Add two numbers",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		}, "a", "b"),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		a, err := mcp.RequireFloat(args, "a")
		if err != nil {
			return nil, err
		}
		b, err := mcp.RequireFloat(args, "b")
		if err != nil {
			return nil, err
		}
		return a + b, nil
	})
	srv.Register(mcp.Tool{Name: "block"}, func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	return srv
}

func openSession(t *testing.T, ctx context.Context) (*mcp.Session, *mcptest.Launcher) {
	t.Helper()
	l := mcptest.NewLauncher()
	l.Add("math", newMathServer())
	conn, err := l.Start(ctx, mcp.ProcessSpec{Name: "math", Command: "math"})
	require.NoError(t, err)
	s := mcp.NewSession(conn)
	t.Cleanup(func() { _ = s.Close() })
	return s, l
}

func TestSessionHandshakeListAndCall(t *testing.T) {
	ctx := context.Background()
	s, l := openSession(t, ctx)

	info, err := s.Initialize(ctx, mcp.Implementation{Name: "cortex", Version: "test"})
	require.NoError(t, err)
	require.Equal(t, mcp.ProtocolVersion, info.ProtocolVersion)
	require.Equal(t, "math", info.ServerInfo.Name)

	tools, err := s.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.Equal(t, "add", tools[0].Name)
	require.Contains(t, string(tools[0].InputSchema), `"required":["a","b"]`)

	res, err := s.CallTool(ctx, "add", map[string]any{"a": 2, "b": 2})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.JSONEq(t, `{"result":4}`, res.Text())

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	require.Equal(t, int64(0), l.Live())
}

func TestSessionToolErrorIsResult(t *testing.T) {
	ctx := context.Background()
	s, _ := openSession(t, ctx)
	_, err := s.Initialize(ctx, mcp.Implementation{Name: "cortex"})
	require.NoError(t, err)

	res, err := s.CallTool(ctx, "add", map[string]any{"a": "two", "b": 2})
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, res.Text(), "a must be a number")
}

func TestSessionUnknownToolIsRPCError(t *testing.T) {
	ctx := context.Background()
	s, _ := openSession(t, ctx)

	_, err := s.CallTool(ctx, "nope", nil)
	var rpcErr *mcp.RPCError
	require.True(t, errors.As(err, &rpcErr))
	require.Equal(t, mcp.CodeInvalidParams, rpcErr.Code)
}

func TestSessionCancelUnblocksPendingCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s, l := openSession(t, context.Background())

	started := time.Now()
	_, err := s.CallTool(ctx, "block", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), 2*time.Second)

	_, err = s.CallTool(context.Background(), "add", map[string]any{"a": 1, "b": 1})
	require.ErrorIs(t, err, mcp.ErrSessionClosed)
	require.Eventually(t, func() bool { return l.Live() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeRecoversFromBadLines(t *testing.T) {
	in := strings.NewReader("not json\n" +
		`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","id":7,"method":"tools/list"}` + "\n" +
		`{"jsonrpc":"2.0","id":"x","method":"bogus"}` + "\n")
	var out bytes.Buffer

	require.NoError(t, newMathServer().Serve(context.Background(), in, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var first, second, third map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))

	require.Nil(t, first["id"])
	require.EqualValues(t, mcp.CodeParseError, first["error"].(map[string]any)["code"])
	require.EqualValues(t, 7, second["id"])
	require.Len(t, second["result"].(map[string]any)["tools"], 2)
	require.Equal(t, "x", third["id"])
	require.EqualValues(t, mcp.CodeMethodNotFound, third["error"].(map[string]any)["code"])
}

func TestArgHelpers(t *testing.T) {
	require.Equal(t, 3, mcp.AsInt(3.9))
	require.Equal(t, 0, mcp.AsInt("3"))
	require.Equal(t, []string{"a", "b"}, mcp.AsStrSlice([]any{"a", 1, "b"}))
	require.Equal(t, 5, mcp.ClampInt(9, 1, 5))
	_, err := mcp.RequireFloat(map[string]any{}, "x")
	require.EqualError(t, err, "x must be a number")
}
