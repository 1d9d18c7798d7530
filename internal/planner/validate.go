package planner

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPlanValidation indicates a plan that must not be executed.
var ErrPlanValidation = errors.New("plan validation failed")

// ValidationError lists every problem found in a plan.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPlanValidation, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrPlanValidation }

// Validate checks a plan statically: every step names a tool, every
// reference points at a strictly earlier step, and the directive only
// references steps that exist.
func Validate(p Plan) error {
	var problems []string
	addf := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	switch p.Directive.Kind {
	case DirectiveFinal, DirectiveContinue:
	default:
		addf("missing terminal directive")
	}

	for i, step := range p.Steps {
		if step.Index != i {
			addf("step %d: index %d out of order", i, step.Index)
		}
		if strings.TrimSpace(step.Tool) == "" {
			addf("step %d: tool is required", i)
		}
		for name, b := range step.Args {
			refs, err := b.Refs()
			if err != nil {
				addf("step %d arg %q: %v", i, name, err)
				continue
			}
			for _, ref := range refs {
				if ref.Step >= i {
					addf("step %d arg %q: %s must reference an earlier step", i, name, ref)
				}
			}
		}
	}

	refs, err := p.Directive.Refs()
	if err != nil {
		addf("directive: %v", err)
	}
	for _, ref := range refs {
		if ref.Step >= len(p.Steps) {
			addf("directive: %s references a step that does not exist", ref)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
