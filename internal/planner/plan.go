// Package planner defines the executable plan handed from the reasoner to the
// executor: an ordered list of tool steps whose arguments may reference the
// results of earlier steps, and a terminal directive.
package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PlanStep is one tool invocation. Index is its position in the plan.
type PlanStep struct {
	Index     int                `json:"index"`
	Tool      string             `json:"tool"`
	Args      map[string]Binding `json:"args,omitempty"`
	Rationale string             `json:"rationale,omitempty"`
}

// Plan is an ordered sequence of steps plus the terminal directive.
type Plan struct {
	Steps     []PlanStep `json:"steps"`
	Directive Directive  `json:"directive"`
	Rationale string     `json:"rationale,omitempty"`
}

// Tools lists the tools named by the plan, in step order.
func (p Plan) Tools() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Tool)
	}
	return out
}

type wireStep struct {
	Tool      string                     `json:"tool"`
	Args      map[string]json.RawMessage `json:"args"`
	Rationale string                     `json:"rationale"`
}

type wirePlan struct {
	Steps     []wireStep `json:"steps"`
	Directive string     `json:"directive"`
	Rationale string     `json:"rationale"`
}

// DecodePlan parses a plan document. The document is checked against the
// plan schema first; the directive must be well formed. Reference ordering is
// checked by Validate, not here.
func DecodePlan(data []byte) (Plan, error) {
	data = bytes.TrimSpace(data)
	if err := ValidatePlanDocument(data); err != nil {
		return Plan{}, err
	}
	var wp wirePlan
	if err := json.Unmarshal(data, &wp); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	dir, err := ParseDirective(wp.Directive)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Directive: dir, Rationale: wp.Rationale, Steps: make([]PlanStep, 0, len(wp.Steps))}
	for i, ws := range wp.Steps {
		step := PlanStep{Index: i, Tool: ws.Tool, Rationale: ws.Rationale, Args: make(map[string]Binding, len(ws.Args))}
		for name, raw := range ws.Args {
			var b Binding
			if err := json.Unmarshal(raw, &b); err != nil {
				return Plan{}, fmt.Errorf("step %d arg %q: %w", i, name, err)
			}
			step.Args[name] = b
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// EncodePlan renders a plan in the document form DecodePlan accepts.
func EncodePlan(p Plan) ([]byte, error) {
	type outStep struct {
		Tool      string             `json:"tool"`
		Args      map[string]Binding `json:"args,omitempty"`
		Rationale string             `json:"rationale,omitempty"`
	}
	out := struct {
		Steps     []outStep `json:"steps"`
		Directive string    `json:"directive"`
		Rationale string    `json:"rationale,omitempty"`
	}{Directive: p.Directive.String(), Rationale: p.Rationale, Steps: make([]outStep, 0, len(p.Steps))}
	for _, s := range p.Steps {
		out.Steps = append(out.Steps, outStep{Tool: s.Tool, Args: s.Args, Rationale: s.Rationale})
	}
	return json.Marshal(out)
}
