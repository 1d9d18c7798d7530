package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// refKey marks a reference object inside step arguments: {"$ref": "step0.result"}.
const refKey = "$ref"

var refPattern = regexp.MustCompile(`^step(\d+)\.result((?:\.[A-Za-z0-9_\-]+)*)$`)

// Ref points at the materialized result of an earlier step, optionally
// descending into it by object key or array index.
type Ref struct {
	Step int
	Path []string
}

// ParseRef parses "stepN.result" with an optional ".key.0" path.
func ParseRef(s string) (Ref, error) {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Ref{}, fmt.Errorf("invalid reference %q: want stepN.result[.path]", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Ref{}, fmt.Errorf("invalid reference %q: %w", s, err)
	}
	ref := Ref{Step: n}
	if m[2] != "" {
		ref.Path = strings.Split(strings.TrimPrefix(m[2], "."), ".")
	}
	return ref, nil
}

func (r Ref) String() string {
	s := fmt.Sprintf("step%d.result", r.Step)
	for _, p := range r.Path {
		s += "." + p
	}
	return s
}

// Binding is an argument value: a literal (which may itself contain
// reference objects at any depth) or a reference to an earlier result.
type Binding struct {
	Literal any
	Ref     *Ref
}

// Lit makes a literal binding.
func Lit(v any) Binding { return Binding{Literal: v} }

// RefTo makes a reference binding.
func RefTo(step int, path ...string) Binding {
	return Binding{Ref: &Ref{Step: step, Path: path}}
}

func (b Binding) MarshalJSON() ([]byte, error) {
	if b.Ref != nil {
		return json.Marshal(map[string]string{refKey: b.Ref.String()})
	}
	return json.Marshal(b.Literal)
}

func (b *Binding) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	v = NormalizeNumbers(v)
	if ref, ok, err := asRef(v); err != nil {
		return err
	} else if ok {
		b.Ref = &ref
		b.Literal = nil
		return nil
	}
	if _, err := collectRefs(v, nil); err != nil {
		return err
	}
	b.Literal = v
	b.Ref = nil
	return nil
}

// Refs returns every reference the binding contains.
func (b Binding) Refs() ([]Ref, error) {
	if b.Ref != nil {
		return []Ref{*b.Ref}, nil
	}
	return collectRefs(b.Literal, nil)
}

func asRef(v any) (Ref, bool, error) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return Ref{}, false, nil
	}
	raw, ok := m[refKey]
	if !ok {
		return Ref{}, false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return Ref{}, false, fmt.Errorf("%s must be a string", refKey)
	}
	ref, err := ParseRef(s)
	if err != nil {
		return Ref{}, false, err
	}
	return ref, true, nil
}

func collectRefs(v any, acc []Ref) ([]Ref, error) {
	if ref, ok, err := asRef(v); err != nil {
		return nil, err
	} else if ok {
		return append(acc, ref), nil
	}
	var err error
	switch x := v.(type) {
	case map[string]any:
		for _, e := range x {
			if acc, err = collectRefs(e, acc); err != nil {
				return nil, err
			}
		}
	case []any:
		for _, e := range x {
			if acc, err = collectRefs(e, acc); err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}

// NormalizeNumbers turns json.Number into int64 when it fits, else float64.
// Integers outside int64 and values float64 cannot hold stay json.Number so
// no digits are lost.
func NormalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if !strings.ContainsAny(x.String(), ".eE") {
			return x
		}
		f, err := x.Float64()
		if err != nil {
			return x
		}
		return f
	case map[string]any:
		for k, e := range x {
			x[k] = NormalizeNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = NormalizeNumbers(e)
		}
		return x
	default:
		return v
	}
}

// Lookup resolves ref against the materialized step results. The returned
// value is a deep copy; callers may mutate it freely.
func Lookup(ref Ref, results []any) (any, error) {
	if ref.Step < 0 || ref.Step >= len(results) {
		return nil, fmt.Errorf("%s: step %d has no result", ref, ref.Step)
	}
	cur := results[ref.Step]
	for _, seg := range ref.Path {
		switch x := cur.(type) {
		case map[string]any:
			v, ok := x[seg]
			if !ok {
				return nil, fmt.Errorf("%s: key %q not found", ref, seg)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(x) {
				return nil, fmt.Errorf("%s: index %q out of range", ref, seg)
			}
			cur = x[i]
		default:
			return nil, fmt.Errorf("%s: cannot descend into %T", ref, cur)
		}
	}
	return DeepCopy(cur), nil
}

// Resolve materializes a binding: references are replaced by deep copies of
// the results they point at.
func (b Binding) Resolve(results []any) (any, error) {
	if b.Ref != nil {
		return Lookup(*b.Ref, results)
	}
	return substitute(b.Literal, results)
}

func substitute(v any, results []any) (any, error) {
	if ref, ok, err := asRef(v); err != nil {
		return nil, err
	} else if ok {
		return Lookup(ref, results)
	}
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			r, err := substitute(e, results)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := substitute(e, results)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// DeepCopy copies JSON-shaped values (maps, slices, scalars).
func DeepCopy(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}

// ResolveArgs materializes every argument of step.
func ResolveArgs(step PlanStep, results []any) (map[string]any, error) {
	out := make(map[string]any, len(step.Args))
	for name, b := range step.Args {
		v, err := b.Resolve(results)
		if err != nil {
			return nil, fmt.Errorf("step %d arg %q: %w", step.Index, name, err)
		}
		out[name] = v
	}
	return out, nil
}
