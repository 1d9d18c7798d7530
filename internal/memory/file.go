package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
)

// File keeps one JSON array of step records per session under a base
// directory. A session id such as 2025/01/02/session-1-abc123 maps to
// <dir>/2025/01/02/session-1-abc123.json.
type File struct {
	dir string
	mu  sync.Mutex
}

// NewFile creates dir when missing.
func NewFile(dir string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &File{dir: dir}, nil
}

// Dir is the base directory.
func (f *File) Dir() string { return f.dir }

func (f *File) path(sessionID string) string {
	return filepath.Join(f.dir, filepath.FromSlash(sessionID)+".json")
}

func (f *File) Record(ctx context.Context, rec core.StepRecord) error {
	if err := validSessionID(rec.SessionID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.path(rec.SessionID)
	recs, err := readRecords(p)
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, p)
}

func (f *File) Fetch(ctx context.Context, sessionID string) ([]core.StepRecord, error) {
	if err := validSessionID(sessionID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return readRecords(f.path(sessionID))
}

func (f *File) Sessions(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(f.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}
		rel, err := filepath.Rel(f.dir, p)
		if err != nil {
			return err
		}
		out = append(out, strings.TrimSuffix(filepath.ToSlash(rel), ".json"))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func (f *File) Close() error { return nil }

// ReadSessionFile decodes a session file written by File.
func ReadSessionFile(p string) ([]core.StepRecord, error) {
	return readRecords(p)
}

func readRecords(p string) ([]core.StepRecord, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var recs []core.StepRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", p, err)
	}
	return recs, nil
}
