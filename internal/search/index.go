// Package search is a small in-memory full-text index used by the
// reference capability servers.
package search

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

// Doc is an indexed document. Only Title and Text are searched; Meta is
// returned with hits.
type Doc struct {
	ID    string            `json:"id"`
	Title string            `json:"title"`
	URL   string            `json:"url,omitempty"`
	Text  string            `json:"text"`
	Meta  map[string]string `json:"-"`
}

type Hit struct {
	DocID   string            `json:"doc_id"`
	Title   string            `json:"title"`
	URL     string            `json:"url,omitempty"`
	Snippet string            `json:"snippet"`
	Score   float64           `json:"score"`
	Rank    int               `json:"rank"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Index wraps a memory-only bleve index plus the source documents.
type Index struct {
	bleve bleve.Index
	docs  map[string]Doc
	mu    sync.RWMutex
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx, docs: make(map[string]Doc)}, nil
}

func (x *Index) Add(doc Doc) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("search: document id required")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.docs[doc.ID] = doc
	return x.bleve.Index(doc.ID, struct {
		Title string
		Text  string
	}{doc.Title, doc.Text})
}

// Doc returns an indexed document by id.
func (x *Index) Doc(id string) (Doc, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	d, ok := x.docs[id]
	return d, ok
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Search runs a BM25 match query and returns at most k hits, best first.
// A blank query matches nothing.
func (x *Index) Search(q string, k int) ([]Hit, error) {
	q = strings.TrimSpace(q)
	if q == "" || k <= 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k, 0, false)
	res, err := x.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Hit, 0, len(res.Hits))
	for i, h := range res.Hits {
		doc := x.docs[h.ID]
		out = append(out, Hit{
			DocID: h.ID, Title: doc.Title, URL: doc.URL,
			Snippet: snippet(doc.Text),
			Score:   h.Score, Rank: i + 1,
			Meta: doc.Meta,
		})
	}
	return out, nil
}

func (x *Index) Close() error { return x.bleve.Close() }

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= 300 {
		return s
	}
	return string(r[:300]) + "…"
}
