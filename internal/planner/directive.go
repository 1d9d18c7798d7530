package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Terminal directive tokens. A directive must start with one of them.
const (
	FinalPrefix    = "FINAL_ANSWER:"
	ContinuePrefix = "FURTHER_PROCESSING_REQUIRED:"
)

// ErrMalformedDirective is returned for a directive that is neither a final
// answer nor a continuation.
var ErrMalformedDirective = errors.New("malformed terminal directive")

// DirectiveKind selects what happens after a plan succeeds.
type DirectiveKind int

const (
	DirectiveFinal DirectiveKind = iota + 1
	DirectiveContinue
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveFinal:
		return "final"
	case DirectiveContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// Directive is the parsed terminal directive. Text may be a bare reference
// ("step0.result") or contain {{stepN.result}} placeholders.
type Directive struct {
	Kind DirectiveKind
	Text string
}

// Final builds a final-answer directive.
func Final(text string) Directive { return Directive{Kind: DirectiveFinal, Text: text} }

// Continue builds a continuation directive.
func Continue(text string) Directive { return Directive{Kind: DirectiveContinue, Text: text} }

func (d Directive) String() string {
	switch d.Kind {
	case DirectiveFinal:
		return FinalPrefix + " " + d.Text
	case DirectiveContinue:
		return ContinuePrefix + " " + d.Text
	default:
		return d.Text
	}
}

func (d Directive) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Directive) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDirective(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirective is strict: the token must open the string (leading
// whitespace aside) and be followed by non-empty text. Tokens appearing
// anywhere else are ordinary text.
func ParseDirective(s string) (Directive, error) {
	trimmed := strings.TrimSpace(s)
	var d Directive
	switch {
	case strings.HasPrefix(trimmed, FinalPrefix):
		d = Directive{Kind: DirectiveFinal, Text: strings.TrimSpace(trimmed[len(FinalPrefix):])}
	case strings.HasPrefix(trimmed, ContinuePrefix):
		d = Directive{Kind: DirectiveContinue, Text: strings.TrimSpace(trimmed[len(ContinuePrefix):])}
	default:
		return Directive{}, fmt.Errorf("%w: %q", ErrMalformedDirective, abbreviate(trimmed, 80))
	}
	if d.Text == "" {
		return Directive{}, fmt.Errorf("%w: empty %s text", ErrMalformedDirective, d.Kind)
	}
	return d, nil
}

// placeholderPattern only matches step references. Other {{...}} text, such
// as a template snippet in an answer, is left alone.
var placeholderPattern = regexp.MustCompile(`\{\{\s*(step\d+\.result[^{}]*?)\s*\}\}`)

// Refs lists the step references the directive text uses.
func (d Directive) Refs() ([]Ref, error) {
	if ref, err := ParseRef(d.Text); err == nil {
		return []Ref{ref}, nil
	}
	var refs []Ref
	for _, m := range placeholderPattern.FindAllStringSubmatch(d.Text, -1) {
		ref, err := ParseRef(m[1])
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Render resolves references in the directive text against step results.
func (d Directive) Render(results []any) (string, error) {
	if ref, err := ParseRef(d.Text); err == nil {
		v, err := Lookup(ref, results)
		if err != nil {
			return "", err
		}
		return FormatValue(v), nil
	}
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(d.Text, func(m string) string {
		inner := placeholderPattern.FindStringSubmatch(m)[1]
		ref, err := ParseRef(inner)
		if err == nil {
			var v any
			if v, err = Lookup(ref, results); err == nil {
				return FormatValue(v)
			}
		}
		if firstErr == nil {
			firstErr = err
		}
		return m
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// FormatValue renders a result for humans: strings as-is, everything else as
// compact JSON.
func FormatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
