package docs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mohammad-safakhou/cortex/internal/search"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func plainText(s string) string {
	strictOnce.Do(func() { strictPolicy = bluemonday.StrictPolicy() })
	return strictPolicy.Sanitize(s)
}

// indexable lists the file extensions LoadCorpus reads.
var indexable = map[string]bool{".md": true, ".markdown": true, ".txt": true, ".html": true, ".htm": true}

// LoadCorpus indexes every readable document under dir, one entry per
// paragraph. It returns the index and the number of files read.
func LoadCorpus(dir string) (*search.Index, int, error) {
	idx, err := search.NewIndex()
	if err != nil {
		return nil, 0, err
	}
	if dir == "" {
		return idx, 0, nil
	}
	files := 0
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !indexable[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		rel = filepath.ToSlash(rel)
		text := string(raw)
		if ext := strings.ToLower(filepath.Ext(p)); ext == ".html" || ext == ".htm" {
			text = htmlParagraphs(text)
		}
		for i, chunk := range Chunk(text) {
			if err := idx.Add(search.Doc{
				ID:    fmt.Sprintf("%s#%d", rel, i),
				Title: filepath.Base(p),
				Text:  chunk,
				Meta:  map[string]string{"source": rel},
			}); err != nil {
				return err
			}
		}
		files++
		return nil
	})
	if err != nil {
		_ = idx.Close()
		return nil, 0, fmt.Errorf("load corpus %s: %w", dir, err)
	}
	return idx, files, nil
}

// Chunk splits text on blank lines and drops empty paragraphs.
func Chunk(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, part := range strings.Split(text, "\n\n") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// htmlParagraphs keeps block boundaries as blank lines before stripping tags.
func htmlParagraphs(s string) string {
	r := strings.NewReplacer("</p>", "</p>\n\n", "<br>", "\n", "<br/>", "\n", "</h1>", "</h1>\n\n",
		"</h2>", "</h2>\n\n", "</h3>", "</h3>\n\n", "</li>", "</li>\n", "</div>", "</div>\n\n")
	return plainText(r.Replace(s))
}
