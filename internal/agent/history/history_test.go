package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/mcp"
)

type fakeDispatcher struct {
	tool string
	args map[string]any
	res  capability.InvocationResult
	err  error
}

func (f *fakeDispatcher) Call(ctx context.Context, tool string, args map[string]any) (capability.InvocationResult, error) {
	f.tool, f.args = tool, args
	return f.res, f.err
}

func hitsResult(t *testing.T, hits []Hit) capability.InvocationResult {
	raw, err := json.Marshal(map[string]any{"result": hits})
	require.NoError(t, err)
	return capability.InvocationResult{Success: true, Parts: []mcp.ContentPart{{Type: mcp.ContentText, Text: string(raw)}}}
}

func TestInjectPrefixesRelevantHits(t *testing.T) {
	d := &fakeDispatcher{res: hitsResult(t, []Hit{
		{Score: 1.2, UserQuery: "what is 2+2", FinalAnswer: "4"},
		{Score: 0.1, UserQuery: "weather", FinalAnswer: "sunny"},
	})}
	inj := NewInjector(d, config.HistoryConfig{MinScore: 0.5}, nil)

	out := inj.Inject(context.Background(), "what is 3+3")
	require.Equal(t, "search_historical_conversations", d.tool)
	require.Equal(t, 2, d.args["max_results"])
	require.Equal(t, "Relevant past conversations for context:\n- User asked: 'what is 2+2'\n  Agent answered: '4'\n\nUser task: what is 3+3", out)
}

func TestInjectLeavesInputOnFailure(t *testing.T) {
	for name, d := range map[string]*fakeDispatcher{
		"unavailable": {err: capability.ErrServerUnavailable},
		"tool error":  {res: capability.InvocationResult{Success: false, Error: "no index"}},
		"malformed":   {res: capability.InvocationResult{Success: true, Parts: []mcp.ContentPart{{Type: mcp.ContentText, Text: "nope"}}}},
		"no hits":     {res: hitsResult(t, nil)},
	} {
		out := NewInjector(d, config.HistoryConfig{}, nil).Inject(context.Background(), "q")
		require.Equal(t, "q", out, name)
	}
}

func TestLookupReportsErrors(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("boom")}
	_, err := NewInjector(d, config.HistoryConfig{}, nil).Lookup(context.Background(), "q")
	require.Error(t, err)
}
