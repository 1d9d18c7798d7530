package executor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/budget"
	"github.com/mohammad-safakhou/cortex/internal/planner"
)

// Policy bounds what a single plan may do.
type Policy struct {
	MaxCalls    int           `yaml:"max_calls"`
	PlanTimeout time.Duration `yaml:"plan_timeout"`
	AllowTools  []string      `yaml:"allow_tools"`
	DenyTools   []string      `yaml:"deny_tools"`
}

// DefaultMaxCalls is the per-plan call cap when nothing else is configured.
const DefaultMaxCalls = 5

// PolicyFromConfig builds a policy from the sandbox config section.
func PolicyFromConfig(cfg config.SandboxConfig) *Policy {
	p := &Policy{MaxCalls: cfg.MaxCalls, PlanTimeout: cfg.PlanTimeout}
	p.normalize()
	return p
}

// LoadPolicy reads cfg.PolicyFile, when set, and overlays it on cfg. The file
// holds a top-level "sandbox" mapping. A file may lower the call cap set in
// config but never raise it.
func LoadPolicy(cfg config.SandboxConfig) (*Policy, error) {
	base := PolicyFromConfig(cfg)
	if cfg.PolicyFile == "" {
		return base, nil
	}
	data, err := os.ReadFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var doc struct {
		Sandbox Policy `yaml:"sandbox"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	p := doc.Sandbox
	if p.MaxCalls < 0 {
		return nil, fmt.Errorf("policy max_calls cannot be negative")
	}
	limits := base.Budget()
	if p.MaxCalls > 0 {
		limits = budget.Merge(limits, budget.Calls(p.MaxCalls))
	}
	p.MaxCalls = *limits.MaxCalls
	if p.PlanTimeout <= 0 {
		p.PlanTimeout = base.PlanTimeout
	}
	p.normalize()
	return &p, nil
}

func (p *Policy) normalize() {
	if p.MaxCalls <= 0 {
		p.MaxCalls = DefaultMaxCalls
	}
	if p.PlanTimeout <= 0 {
		p.PlanTimeout = 2 * time.Minute
	}
	p.AllowTools = trimAll(p.AllowTools)
	p.DenyTools = trimAll(p.DenyTools)
}

// Budget returns the per-plan budget this policy implies.
func (p *Policy) Budget() budget.Config {
	calls := p.MaxCalls
	timeout := p.PlanTimeout
	return budget.Config{MaxCalls: &calls, MaxTime: &timeout}
}

// Allowed reports whether tool may be invoked under this policy.
func (p *Policy) Allowed(tool string) bool {
	for _, d := range p.DenyTools {
		if d == tool {
			return false
		}
	}
	if len(p.AllowTools) == 0 {
		return true
	}
	for _, a := range p.AllowTools {
		if a == tool {
			return true
		}
	}
	return false
}

// Check lists policy violations in plan.
func (p *Policy) Check(plan planner.Plan) []string {
	var problems []string
	for _, s := range plan.Steps {
		if !p.Allowed(s.Tool) {
			problems = append(problems, fmt.Sprintf("step %d: tool %q is not permitted by sandbox policy", s.Index, s.Tool))
		}
	}
	return problems
}

func trimAll(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
