package budget

import (
	"fmt"
	"sync"
	"time"
)

// Monitor tracks actual usage against configured limits during execution.
type Monitor struct {
	config    Config
	calls     int
	startTime time.Time
	mu        sync.Mutex
}

// NewMonitor clones the provided config and starts tracking usage.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{
		config:    cfg.Clone(),
		startTime: time.Now(),
	}
}

// Reserve claims one call. It fails, without consuming anything, when the
// call would exceed the limit, so a rejected call is never issued.
func (m *Monitor) Reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.MaxCalls != nil && m.calls+1 > *m.config.MaxCalls {
		return ErrExceeded{
			Kind:  "calls",
			Usage: fmt.Sprintf("%d calls", m.calls+1),
			Limit: fmt.Sprintf("%d calls", *m.config.MaxCalls),
		}
	}
	m.calls++
	return nil
}

// Remaining returns the number of calls left, or -1 when unbounded.
func (m *Monitor) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.MaxCalls == nil {
		return -1
	}
	return *m.config.MaxCalls - m.calls
}

// CheckTime verifies elapsed time against the configured limit.
func (m *Monitor) CheckTime() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.MaxTime == nil || *m.config.MaxTime <= 0 {
		return nil
	}
	elapsed := time.Since(m.startTime)
	if elapsed > *m.config.MaxTime {
		return ErrExceeded{
			Kind:  "time",
			Usage: elapsed.String(),
			Limit: m.config.MaxTime.String(),
		}
	}
	return nil
}

// Usage returns the accumulated metrics.
func (m *Monitor) Usage() (calls int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls, time.Since(m.startTime)
}

// Config returns a clone of the underlying budget config.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Clone()
}
