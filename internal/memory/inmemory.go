package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
)

// InMemory keeps step records in process.
type InMemory struct {
	sessions map[string][]core.StepRecord
	mu       sync.RWMutex
}

func NewInMemory() *InMemory {
	return &InMemory{sessions: make(map[string][]core.StepRecord)}
}

func (m *InMemory) Record(ctx context.Context, rec core.StepRecord) error {
	if err := validSessionID(rec.SessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.SessionID] = append(m.sessions[rec.SessionID], rec)
	return nil
}

func (m *InMemory) Fetch(ctx context.Context, sessionID string) ([]core.StepRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.sessions[sessionID]
	return append([]core.StepRecord(nil), recs...), nil
}

func (m *InMemory) Sessions(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *InMemory) Close() error { return nil }
