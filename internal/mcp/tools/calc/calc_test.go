package calc

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/cortex/internal/mcp"
	"github.com/mohammad-safakhou/cortex/internal/mcp/mcptest"
)

func session(t *testing.T) *mcp.Session {
	t.Helper()
	l := mcptest.NewLauncher()
	l.Add("math", NewServer("test", nil))
	conn, err := l.Start(context.Background(), mcp.ProcessSpec{Name: "math", Command: "math"})
	require.NoError(t, err)
	s := mcp.NewSession(conn)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Initialize(context.Background(), mcp.Implementation{Name: "test", Version: "0"})
	require.NoError(t, err)
	return s
}

func call(t *testing.T, s *mcp.Session, tool string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), tool, args)
	require.NoError(t, err)
	if res.IsError {
		return res.Text(), true
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(res.Text())))
	dec.UseNumber()
	var doc struct {
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, dec.Decode(&doc))
	return string(doc.Result), false
}

func TestToolsAreAdvertised(t *testing.T) {
	s := session(t)
	tools, err := s.ListTools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
		require.NotEmpty(t, tool.InputSchema, tool.Name)
	}
	require.ElementsMatch(t, []string{
		"add", "subtract", "multiply", "divide", "power", "remainder", "factorial",
		"cbrt", "fibonacci_numbers", "strings_to_chars_to_int", "int_list_to_exponential_sum",
	}, names)
}

func TestArithmetic(t *testing.T) {
	s := session(t)
	cases := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"add", map[string]any{"a": 2, "b": 3}, "5"},
		{"subtract", map[string]any{"a": 2, "b": 3}, "-1"},
		{"multiply", map[string]any{"a": -4, "b": 3}, "-12"},
		{"multiply", map[string]any{"a": int64(1) << 40, "b": int64(1) << 40}, "1208925819614629174706176"},
		{"add", map[string]any{"a": int64(1) << 53, "b": int64(1) << 53}, "18014398509481984"},
		{"subtract", map[string]any{"a": -(int64(1) << 53), "b": int64(1) << 53}, "-18014398509481984"},
		{"divide", map[string]any{"a": 7, "b": 2}, "3.5"},
		{"power", map[string]any{"a": 2, "b": 10}, "1024"},
		{"power", map[string]any{"a": 2, "b": -1}, "0.5"},
		{"power", map[string]any{"a": 2, "b": 100}, "1267650600228229401496703205376"},
		{"remainder", map[string]any{"a": 7, "b": 3}, "1"},
		{"remainder", map[string]any{"a": -7, "b": 3}, "2"},
		{"factorial", map[string]any{"n": 5}, "120"},
		{"factorial", map[string]any{"n": 0}, "1"},
		{"factorial", map[string]any{"n": 25}, "15511210043330985984000000"},
		{"cbrt", map[string]any{"a": 27}, "3"},
		{"fibonacci_numbers", map[string]any{"n": 7}, "[0,1,1,2,3,5,8]"},
		{"fibonacci_numbers", map[string]any{"n": 0}, "[]"},
		{"strings_to_chars_to_int", map[string]any{"string": "AZ"}, "[65,90]"},
		{"int_list_to_exponential_sum", map[string]any{"numbers": []any{0, 0}}, "2"},
	}
	for _, tc := range cases {
		got, isErr := call(t, s, tc.tool, tc.args)
		require.False(t, isErr, "%s: %s", tc.tool, got)
		require.Equal(t, tc.want, got, tc.tool)
	}
}

func TestToolErrors(t *testing.T) {
	s := session(t)
	cases := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"divide", map[string]any{"a": 1, "b": 0}, "division by zero"},
		{"remainder", map[string]any{"a": 1, "b": 0}, "division by zero"},
		{"factorial", map[string]any{"n": -1}, "negative"},
		{"add", map[string]any{"a": 1.5, "b": 2}, "a must be an integer"},
		{"add", map[string]any{"a": "x", "b": 2}, "a must be a number"},
		{"power", map[string]any{"a": 0, "b": -1}, "negative power"},
		{"int_list_to_exponential_sum", map[string]any{"numbers": []any{1, "x"}}, "numbers[1]"},
		{"strings_to_chars_to_int", map[string]any{}, "string must be a string"},
	}
	for _, tc := range cases {
		got, isErr := call(t, s, tc.tool, tc.args)
		require.True(t, isErr, tc.tool)
		require.Contains(t, got, tc.want, tc.tool)
	}
}
