package docs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/cortex/internal/mcp"
	"github.com/mohammad-safakhou/cortex/internal/mcp/mcptest"
)

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tea.md"), []byte("# Tea\n\nGreen tea is brewed at lower temperatures.\n\nBlack tea is fully oxidised."), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lang"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lang", "go.html"), []byte("<html><body><p>Go has <b>goroutines</b> and channels.</p><script>alert(1)</script></body></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte{0x89, 0x50}, 0o644))
	return dir
}

func session(t *testing.T, srv *mcp.Server) *mcp.Session {
	t.Helper()
	l := mcptest.NewLauncher()
	l.Add("docs", srv)
	conn, err := l.Start(context.Background(), mcp.ProcessSpec{Name: "docs", Command: "docs"})
	require.NoError(t, err)
	s := mcp.NewSession(conn)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Initialize(context.Background(), mcp.Implementation{Name: "test"})
	require.NoError(t, err)
	return s
}

func TestChunk(t *testing.T) {
	require.Equal(t, []string{"a", "b c"}, Chunk("a\r\n\r\n\n\nb c\n\n  "))
	require.Empty(t, Chunk("   "))
}

func TestLoadCorpus(t *testing.T) {
	idx, files, err := LoadCorpus(writeCorpus(t))
	require.NoError(t, err)
	defer idx.Close()
	require.Equal(t, 2, files)
	require.Equal(t, 4, idx.Len())

	doc, ok := idx.Doc("lang/go.html#0")
	require.True(t, ok)
	require.Equal(t, "Go has goroutines and channels.", doc.Text)

	_, _, err = LoadCorpus(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestSearchStoredDocuments(t *testing.T) {
	idx, _, err := LoadCorpus(writeCorpus(t))
	require.NoError(t, err)
	defer idx.Close()
	s := session(t, NewServer("test", idx, nil))

	res, err := s.CallTool(context.Background(), "search_stored_documents", map[string]any{"query": "green tea brewed", "k": 2})
	require.NoError(t, err)
	require.False(t, res.IsError, res.Text())
	var doc struct {
		Result []Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &doc))
	require.NotEmpty(t, doc.Result)
	require.LessOrEqual(t, len(doc.Result), 2)
	require.Equal(t, "tea.md", doc.Result[0].Source)
	require.Contains(t, doc.Result[0].Content, "Green tea")

	res, err = s.CallTool(context.Background(), "search_stored_documents", map[string]any{"query": " "})
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestSearchWithoutDocuments(t *testing.T) {
	idx, _, err := LoadCorpus("")
	require.NoError(t, err)
	defer idx.Close()
	s := session(t, NewServer("test", idx, nil))
	res, err := s.CallTool(context.Background(), "search_stored_documents", map[string]any{"query": "tea"})
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, res.Text(), "no documents indexed")
}

const article = `<!doctype html>
<html><head><title>Brewing Notes</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Brewing Notes</h1>
<p>Green tea is brewed at <b>lower</b> temperatures than black tea. Steeping it too hot makes it bitter, so most guides
recommend water between seventy and eighty degrees. This paragraph is long enough to count as content.</p>
<p>Black tea tolerates boiling water and longer steeping times. Read the <a href="https://example.com/guide">full guide</a>
for details on oxidation, leaf grades and regional styles that affect the flavour of the cup.</p>
<ul><li>Sencha</li><li>Assam</li></ul>
</article>
<footer>Copyright</footer>
</body></html>`

func TestConvertWebpage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(article))
		case "/notes.txt":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("  plain notes  "))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	idx, _, err := LoadCorpus("")
	require.NoError(t, err)
	defer idx.Close()
	s := session(t, NewServer("test", idx, nil))

	call := func(u string) (string, bool) {
		res, err := s.CallTool(context.Background(), "convert_webpage_url_into_markdown", map[string]any{"url": u})
		require.NoError(t, err)
		if res.IsError {
			return res.Text(), true
		}
		var doc struct {
			Result string `json:"result"`
		}
		require.NoError(t, json.Unmarshal([]byte(res.Text()), &doc))
		return doc.Result, false
	}

	md, isErr := call(ts.URL + "/page")
	require.False(t, isErr, md)
	require.Contains(t, md, "Brewing Notes")
	require.Contains(t, md, "**lower**")
	require.Contains(t, md, "[full guide](https://example.com/guide)")
	require.NotContains(t, md, "Copyright")

	md, isErr = call(ts.URL + "/notes.txt")
	require.False(t, isErr)
	require.Equal(t, "plain notes", md)

	msg, isErr := call(ts.URL + "/missing")
	require.True(t, isErr)
	require.Contains(t, msg, "HTTP 404")

	msg, isErr = call("file:///etc/passwd")
	require.True(t, isErr)
	require.Contains(t, msg, "invalid url")
}

func TestMarkdown(t *testing.T) {
	md, err := Markdown(`<h2>Title</h2><p>Hello <em>big</em> world</p><ul><li>one</li><li>two</li></ul><p><a href="#top">skip</a> <a href="https://x.test">x</a></p><pre><code>a := 1</code></pre>`)
	require.NoError(t, err)
	require.Contains(t, md, "## Title")
	require.Contains(t, md, "Hello *big* world")
	require.Contains(t, md, "- one\n- two")
	require.Contains(t, md, "skip [x](https://x.test)")
	require.Contains(t, md, "```\na := 1\n```")
}
