// Package reasoner implements the perceive and decide phases on top of a
// JSON-producing language model.
package reasoner

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/planner"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join":   strings.Join,
	"schema": compactSchema,
	"plan":   encodePlan,
}).ParseFS(promptFS, "prompts/*.tmpl"))

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty model response")

// Generator produces a JSON document for a prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Reasoner turns model output into perceptions and plans.
type Reasoner struct {
	gen      Generator
	logger   *zap.Logger
	maxCalls int
}

// Option configures the reasoner.
type Option func(*Reasoner)

// WithLogger sets the reasoner logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reasoner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxCalls sets the call budget quoted to the model.
func WithMaxCalls(n int) Option {
	return func(r *Reasoner) {
		if n > 0 {
			r.maxCalls = n
		}
	}
}

func New(gen Generator, opts ...Option) *Reasoner {
	r := &Reasoner{gen: gen, logger: zap.NewNop(), maxCalls: 5}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type perceptionData struct {
	Input   string
	Servers []capability.ServerSummary
}

func (r *Reasoner) Perceive(ctx context.Context, input string, servers []capability.ServerSummary) (core.Perception, error) {
	prompt, err := render("perception.tmpl", perceptionData{Input: input, Servers: servers})
	if err != nil {
		return core.Perception{}, err
	}
	raw, err := r.generate(ctx, "perceive", prompt)
	if err != nil {
		return core.Perception{}, err
	}
	var p core.Perception
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return core.Perception{}, fmt.Errorf("%w: decode perception: %v", core.ErrReasonerFailure, err)
	}
	p.SelectedServers = knownServers(p.SelectedServers, servers)
	return p, nil
}

type decisionData struct {
	Input      string
	Perception core.Perception
	Tools      []capability.ToolDescriptor
	Meta       core.StepMetadata
	History    []core.StepRecord
	StepNumber int
	MaxCalls   int
	PlanSchema string
}

func (r *Reasoner) Decide(ctx context.Context, p core.Perception, input string, tools []capability.ToolDescriptor, meta core.StepMetadata) (planner.Plan, error) {
	prompt, err := render("decision.tmpl", decisionData{
		Input:      input,
		Perception: p,
		Tools:      tools,
		Meta:       meta,
		History:    meta.History,
		StepNumber: meta.Step + 1,
		MaxCalls:   r.maxCalls,
		PlanSchema: planner.SchemaJSON(),
	})
	if err != nil {
		return planner.Plan{}, err
	}
	raw, err := r.generate(ctx, "decide", prompt)
	if err != nil {
		return planner.Plan{}, err
	}
	plan, err := planner.DecodePlan([]byte(raw))
	if err != nil {
		return planner.Plan{}, fmt.Errorf("%w: %w", core.ErrReasonerFailure, err)
	}
	return plan, nil
}

func (r *Reasoner) generate(ctx context.Context, phase, prompt string) (string, error) {
	raw, err := r.gen.GenerateJSON(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s: %v", core.ErrReasonerFailure, phase, err)
	}
	raw = StripFences(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: %s: %w", core.ErrReasonerFailure, phase, ErrEmptyResponse)
	}
	r.logger.Debug("model output", zap.String("phase", phase), zap.Int("bytes", len(raw)))
	return raw, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// StripFences removes a surrounding markdown code fence such as ```json.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func compactSchema(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// knownServers drops ids the model invented.
func knownServers(ids []string, servers []capability.ServerSummary) []string {
	known := make(map[string]struct{}, len(servers))
	for _, s := range servers {
		known[s.ID] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if _, ok := known[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// encodePlan renders an earlier step's plan in the document form the model
// writes.
func encodePlan(p *planner.Plan) string {
	if p == nil {
		return ""
	}
	raw, err := planner.EncodePlan(*p)
	if err != nil {
		return ""
	}
	return string(raw)
}
