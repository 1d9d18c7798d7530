// Package history prefixes a new request with related past conversations
// found through the history capability server.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/executor"
)

// Hit is one past conversation returned by the history tool.
type Hit struct {
	Score       float64 `json:"score"`
	UserQuery   string  `json:"user_query"`
	FinalAnswer string  `json:"final_answer"`
	SourceFile  string  `json:"source_file,omitempty"`
}

// Injector looks up past conversations and prefixes them to the input. Any
// failure leaves the input untouched.
type Injector struct {
	dispatcher executor.Dispatcher
	cfg        config.HistoryConfig
	logger     *zap.Logger
}

// NewInjector builds an injector calling cfg.Tool through d.
func NewInjector(d executor.Dispatcher, cfg config.HistoryConfig, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{dispatcher: d, cfg: cfg.Normalize(), logger: logger}
}

// Inject returns input, prefixed with relevant history when there is any.
func (i *Injector) Inject(ctx context.Context, input string) string {
	hits, err := i.Lookup(ctx, input)
	if err != nil {
		i.logger.Warn("history lookup failed", zap.String("tool", i.cfg.Tool), zap.Error(err))
		return input
	}
	if len(hits) == 0 {
		return input
	}
	i.logger.Info("injecting history", zap.Int("hits", len(hits)))
	return Format(hits) + "\nUser task: " + input
}

// Lookup calls the history tool and keeps hits scoring at least MinScore.
func (i *Injector) Lookup(ctx context.Context, query string) ([]Hit, error) {
	res, err := i.dispatcher.Call(ctx, i.cfg.Tool, map[string]any{
		"query":       query,
		"max_results": i.cfg.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%s: %s", i.cfg.Tool, res.Error)
	}
	value, err := executor.ParseResult(res)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var hits []Hit
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, fmt.Errorf("decode history hits: %w", err)
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= i.cfg.MinScore && h.UserQuery != "" && h.FinalAnswer != "" {
			out = append(out, h)
		}
	}
	return out, nil
}

// Format renders hits as a context block.
func Format(hits []Hit) string {
	var b strings.Builder
	b.WriteString("Relevant past conversations for context:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "- User asked: '%s'\n  Agent answered: '%s'\n", h.UserQuery, h.FinalAnswer)
	}
	return b.String()
}
