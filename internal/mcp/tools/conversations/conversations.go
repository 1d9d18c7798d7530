// Package conversations is the history capability server. It searches past
// runs stored by the file run memory.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/mcp"
	"github.com/mohammad-safakhou/cortex/internal/memory"
	"github.com/mohammad-safakhou/cortex/internal/search"
)

const (
	defaultMaxResults = 5
	maxResults        = 20
	taskMarker        = "User task: "
)

// Hit is one past conversation. The JSON shape is what the history injector
// decodes.
type Hit struct {
	Score       float64 `json:"score"`
	UserQuery   string  `json:"user_query"`
	FinalAnswer string  `json:"final_answer"`
	SourceFile  string  `json:"source_file"`
	Timestamp   int64   `json:"timestamp"`
}

// Archive indexes session files under a directory. Files are picked up
// lazily before each search, so sessions written after start are found.
type Archive struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	index   *search.Index
	seen    map[string]time.Time
	entries map[string]Hit
}

func NewArchive(dir string, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx, err := search.NewIndex()
	if err != nil {
		return nil, err
	}
	return &Archive{dir: dir, logger: logger, index: idx, seen: map[string]time.Time{}, entries: map[string]Hit{}}, nil
}

func (a *Archive) Close() error { return a.index.Close() }

// Len is the number of indexed conversations.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Refresh indexes new or modified session files. Unreadable files are
// logged and skipped.
func (a *Archive) Refresh() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := filepath.WalkDir(a.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == a.dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if prev, ok := a.seen[p]; ok && !info.ModTime().After(prev) {
			return nil
		}
		a.seen[p] = info.ModTime()
		hit, ok, err := summarize(p)
		if err != nil {
			a.logger.Warn("skip session file", zap.String("file", p), zap.Error(err))
			return nil
		}
		if !ok {
			return nil
		}
		hit.Timestamp = info.ModTime().Unix()
		if err := a.index.Add(search.Doc{
			ID:    p,
			Title: hit.UserQuery,
			Text:  "User question: " + hit.UserQuery + "\nFinal answer: " + hit.FinalAnswer,
		}); err != nil {
			return err
		}
		a.entries[p] = hit
		return nil
	})
	if err != nil {
		return fmt.Errorf("index sessions: %w", err)
	}
	return nil
}

// Search refreshes the index and returns the best matching conversations.
func (a *Archive) Search(query string, k int) ([]Hit, error) {
	if err := a.Refresh(); err != nil {
		return nil, err
	}
	hits, err := a.index.Search(query, k)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		e, ok := a.entries[h.DocID]
		if !ok {
			continue
		}
		e.Score = h.Score
		out = append(out, e)
	}
	return out, nil
}

// summarize extracts the user query and final answer of a finished session.
// ok is false for sessions that never reached a final answer.
func summarize(p string) (Hit, bool, error) {
	recs, err := memory.ReadSessionFile(p)
	if err != nil {
		return Hit{}, false, err
	}
	var query, answer string
	for _, r := range recs {
		if query == "" {
			query = UserQuery(r.OriginalInput)
		}
		if r.Outcome == core.StepFinal && r.FinalAnswer != "" {
			answer = r.FinalAnswer
		}
	}
	if query == "" || answer == "" {
		return Hit{}, false, nil
	}
	return Hit{UserQuery: query, FinalAnswer: answer, SourceFile: p}, true, nil
}

// UserQuery drops an injected history block, keeping the user's own words.
func UserQuery(input string) string {
	if i := strings.LastIndex(input, taskMarker); i >= 0 {
		input = input[i+len(taskMarker):]
	}
	return strings.TrimSpace(input)
}

// NewServer exposes search_historical_conversations over a.
func NewServer(version string, a *Archive, logger *zap.Logger) *mcp.Server {
	srv := mcp.NewServer("history", version, mcp.WithServerLogger(logger))
	srv.Register(mcp.Tool{
		Name:        "search_historical_conversations",
		Description: "Search past conversations for questions similar to the query and their final answers.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"query":       map[string]any{"type": "string", "description": "The search query."},
			"max_results": map[string]any{"type": "integer", "minimum": 1, "maximum": maxResults, "description": "Maximum number of results to return."},
		}, "query"),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		q := strings.TrimSpace(mcp.Str(args["query"]))
		if q == "" {
			return nil, errors.New("query is required")
		}
		k := defaultMaxResults
		if v, ok := args["max_results"]; ok {
			k = mcp.ClampInt(mcp.AsInt(v), 1, maxResults)
		}
		hits, err := a.Search(q, k)
		if err != nil {
			return nil, err
		}
		if a.Len() == 0 {
			return nil, errors.New("no historical conversations indexed yet")
		}
		return hits, nil
	})
	return srv
}
