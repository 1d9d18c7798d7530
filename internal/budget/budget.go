package budget

import (
	"fmt"
	"time"
)

// Config defines execution guardrails for a single plan.
type Config struct {
	MaxCalls *int
	MaxTime  *time.Duration
}

// Calls is a convenience constructor for a call-only budget.
func Calls(n int) Config {
	return Config{MaxCalls: &n}
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.MaxCalls != nil && *c.MaxCalls < 0 {
		return fmt.Errorf("max_calls cannot be negative")
	}
	if c.MaxTime != nil && *c.MaxTime < 0 {
		return fmt.Errorf("max_time cannot be negative")
	}
	return nil
}

// Clone produces a deep copy of the config.
func (c Config) Clone() Config {
	var clone Config
	if c.MaxCalls != nil {
		v := *c.MaxCalls
		clone.MaxCalls = &v
	}
	if c.MaxTime != nil {
		v := *c.MaxTime
		clone.MaxTime = &v
	}
	return clone
}

// Merge overlays non-nil values from override onto base. A call limit can
// only be tightened, never raised, by an override.
func Merge(base Config, override Config) Config {
	result := base.Clone()
	if override.MaxCalls != nil {
		v := *override.MaxCalls
		if result.MaxCalls == nil || v < *result.MaxCalls {
			result.MaxCalls = &v
		}
	}
	if override.MaxTime != nil {
		v := *override.MaxTime
		result.MaxTime = &v
	}
	return result
}

// IsZero reports whether the config defines no explicit limits.
func (c Config) IsZero() bool {
	return c.MaxCalls == nil && (c.MaxTime == nil || *c.MaxTime == 0)
}
