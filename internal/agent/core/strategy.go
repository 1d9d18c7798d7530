package core

import (
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/capability"
)

// Planning modes.
const (
	ModeConservative = "conservative"
	ModeExploratory  = "exploratory"
)

// Strategy chooses which tools Decide gets to see.
type Strategy struct {
	cfg    config.StrategyConfig
	logger *zap.Logger
}

// NewStrategy normalizes cfg and returns a strategy for it.
func NewStrategy(cfg config.StrategyConfig, logger *zap.Logger) Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Strategy{cfg: cfg.Normalize(), logger: logger}
}

// Config returns the normalized strategy settings.
func (s Strategy) Config() config.StrategyConfig { return s.cfg }

// Tools picks the tool set for a Decide call.
//
// On a first attempt the tools of the perceived servers are narrowed by the
// tool hint, falling back to the whole catalog when nothing is left. On a
// replan the whole catalog is offered, except that exploratory mode with
// memory fallback enabled first tries the tools that recently succeeded.
func (s Strategy) Tools(cat *capability.Catalog, p Perception, meta StepMetadata) []capability.ToolDescriptor {
	all := cat.Tools()
	if meta.Replan {
		if s.cfg.PlanningMode == ModeExploratory && s.cfg.MemoryFallbackEnabled {
			if fallback := recentTools(cat, meta); len(fallback) > 0 {
				s.logger.Debug("memory fallback tools", zap.Int("count", len(fallback)))
				return fallback
			}
			s.logger.Debug("no memory fallback tools, using all tools")
		}
		return all
	}

	scoped := all
	if len(p.SelectedServers) > 0 {
		if byServer := cat.ToolsForServers(p.SelectedServers); len(byServer) > 0 {
			scoped = byServer
		}
	}
	filtered := capability.FilterByHint(scoped, p.ToolHint)
	if len(filtered) == 0 {
		s.logger.Debug("no filtered tools, using all tools")
		return all
	}
	return filtered
}

func recentTools(cat *capability.Catalog, meta StepMetadata) []capability.ToolDescriptor {
	failed := make(map[string]struct{}, len(meta.FailedTools))
	for _, t := range meta.FailedTools {
		failed[t] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []capability.ToolDescriptor
	for _, name := range meta.RecentSuccessfulTools {
		if _, ok := failed[name]; ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if td, ok := cat.Tool(name); ok {
			out = append(out, td)
		}
	}
	return out
}
