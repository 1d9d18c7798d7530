// Package docs is the document capability server: search over a local
// corpus and web page to markdown conversion.
package docs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/mcp"
	"github.com/mohammad-safakhou/cortex/internal/search"
)

const (
	defaultK        = 5
	maxK            = 25
	maxBodyBytes    = 4 << 20
	defaultMaxChars = 20000
	userAgent       = "cortex-docs/1.0"
)

// Result is one document hit.
type Result struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Tools holds the state shared by the document tools.
type Tools struct {
	Index    *search.Index
	Client   *http.Client
	MaxChars int
	Logger   *zap.Logger
}

// NewServer registers the document tools over idx.
func NewServer(version string, idx *search.Index, logger *zap.Logger) *mcp.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tools{
		Index:    idx,
		Client:   &http.Client{Timeout: 30 * time.Second},
		MaxChars: defaultMaxChars,
		Logger:   logger,
	}
	srv := mcp.NewServer("documents", version, mcp.WithServerLogger(logger))
	t.Register(srv)
	return srv
}

func (t *Tools) Register(srv *mcp.Server) {
	srv.Register(mcp.Tool{
		Name:        "search_stored_documents",
		Description: "Search stored documents for passages relevant to a query.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query."},
			"k":     map[string]any{"type": "integer", "minimum": 1, "maximum": maxK, "description": "Number of results to return."},
		}, "query"),
	}, t.searchDocuments)
	srv.Register(mcp.Tool{
		Name:        "convert_webpage_url_into_markdown",
		Description: "Fetch a web page and convert its main content to markdown.",
		InputSchema: mcp.ObjectSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "The URL of the web page."},
		}, "url"),
	}, t.convertWebpage)
}

func (t *Tools) searchDocuments(ctx context.Context, args map[string]any) (any, error) {
	q := strings.TrimSpace(mcp.Str(args["query"]))
	if q == "" {
		return nil, errors.New("query is required")
	}
	k := defaultK
	if v, ok := args["k"]; ok {
		k = mcp.ClampInt(mcp.AsInt(v), 1, maxK)
	}
	if t.Index == nil || t.Index.Len() == 0 {
		return nil, errors.New("no documents indexed")
	}
	hits, err := t.Index.Search(q, k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		doc, _ := t.Index.Doc(h.DocID)
		out = append(out, Result{Source: h.Meta["source"], Content: doc.Text, Score: h.Score})
	}
	return out, nil
}

func (t *Tools) convertWebpage(ctx context.Context, args map[string]any) (any, error) {
	raw := strings.TrimSpace(mcp.Str(args["url"]))
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid url: %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "text/plain") || strings.Contains(ct, "text/markdown") {
		return t.truncate(strings.TrimSpace(string(body))), nil
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), u)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	md, err := Markdown(article.Content)
	if err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	if md == "" {
		md = strings.TrimSpace(article.TextContent)
	}
	if md == "" {
		return nil, errors.New("no readable content")
	}
	if title := strings.TrimSpace(article.Title); title != "" && !strings.HasPrefix(md, "# ") {
		md = "# " + title + "\n\n" + md
	}
	t.Logger.Debug("converted page", zap.String("url", u.String()), zap.Int("chars", len(md)))
	return t.truncate(md), nil
}

func (t *Tools) truncate(s string) string {
	r := []rune(s)
	if t.MaxChars <= 0 || len(r) <= t.MaxChars {
		return s
	}
	return string(r[:t.MaxChars]) + "\n\n[truncated]"
}
