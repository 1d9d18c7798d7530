package conversations

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/agent/history"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/mcp/mcptest"
	"github.com/mohammad-safakhou/cortex/internal/memory"
)

func record(t *testing.T, st *memory.File, id, input, answer string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Record(ctx, core.StepRecord{SessionID: id, Step: 0, OriginalInput: input, Outcome: core.StepContinue}))
	if answer != "" {
		require.NoError(t, st.Record(ctx, core.StepRecord{SessionID: id, Step: 1, OriginalInput: input, Outcome: core.StepFinal, FinalAnswer: answer}))
	}
}

func TestUserQuery(t *testing.T) {
	require.Equal(t, "what is 2+3", UserQuery("Relevant past conversations for context:\n- ...\nUser task: what is 2+3"))
	require.Equal(t, "plain", UserQuery("  plain "))
}

func TestArchiveSearch(t *testing.T) {
	dir := t.TempDir()
	st, err := memory.NewFile(dir)
	require.NoError(t, err)
	record(t, st, "2025/03/04/session-1-aaaaaa", "What is the capital of France?", "Paris")
	record(t, st, "2025/03/04/session-2-bbbbbb", "History block\nUser task: add 2 and 3", "5")
	record(t, st, "2025/03/05/session-3-cccccc", "unfinished capital question", "")

	a, err := NewArchive(dir, nil)
	require.NoError(t, err)
	defer a.Close()

	hits, err := a.Search("capital of France", 5)
	require.NoError(t, err)
	require.Equal(t, 2, a.Len())
	require.NotEmpty(t, hits)
	require.Equal(t, "What is the capital of France?", hits[0].UserQuery)
	require.Equal(t, "Paris", hits[0].FinalAnswer)
	require.Greater(t, hits[0].Score, 0.0)
	require.FileExists(t, hits[0].SourceFile)

	hits, err = a.Search("add 2 and 3", 5)
	require.NoError(t, err)
	require.Equal(t, "add 2 and 3", hits[0].UserQuery)

	// sessions written later are picked up on the next search
	record(t, st, "2025/03/06/session-4-dddddd", "Which planet is largest?", "Jupiter")
	hits, err = a.Search("largest planet", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "Jupiter", hits[0].FinalAnswer)
}

func TestArchiveSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	a, err := NewArchive(dir, nil)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Refresh())
	require.Equal(t, 0, a.Len())

	missing, err := NewArchive(filepath.Join(dir, "nope"), nil)
	require.NoError(t, err)
	defer missing.Close()
	require.NoError(t, missing.Refresh())
}

func TestHistoryInjectorThroughServer(t *testing.T) {
	dir := t.TempDir()
	st, err := memory.NewFile(dir)
	require.NoError(t, err)
	record(t, st, "2025/03/04/session-1-aaaaaa", "What is the capital of France?", "Paris")

	a, err := NewArchive(dir, nil)
	require.NoError(t, err)
	defer a.Close()

	l := mcptest.NewLauncher()
	l.Add("history", NewServer("test", a, nil))
	reg, err := capability.New(l)
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(context.Background(), []capability.ServerDescriptor{{ID: "history", Command: "history"}}))

	res, err := reg.Call(context.Background(), "search_historical_conversations", map[string]any{"query": "capital France"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)

	inj := history.NewInjector(reg, config.HistoryConfig{Enabled: true}, nil)
	out := inj.Inject(context.Background(), "capital of France again")
	require.Contains(t, out, "User asked: 'What is the capital of France?'")
	require.Contains(t, out, "Agent answered: 'Paris'")
	require.Contains(t, out, "User task: capital of France again")
}

func TestServerWithEmptyArchive(t *testing.T) {
	a, err := NewArchive(t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	l := mcptest.NewLauncher()
	l.Add("history", NewServer("test", a, nil))
	reg, err := capability.New(l)
	require.NoError(t, err)
	require.NoError(t, reg.Initialize(context.Background(), []capability.ServerDescriptor{{ID: "history", Command: "history"}}))

	res, err := reg.Call(context.Background(), "search_historical_conversations", map[string]any{"query": "anything"})
	require.NoError(t, err)
	require.False(t, res.Success)
	raw, _ := json.Marshal(res)
	require.Contains(t, string(raw), "no historical conversations")
}
