// Package executor runs validated plans against a dispatcher under a hard
// per-plan call budget.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/budget"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/planner"
)

var (
	// ErrExecution wraps the first failed step of a plan.
	ErrExecution = errors.New("plan execution failed")
	// ErrCallBudgetExceeded is returned when a plan needs more calls than allowed.
	ErrCallBudgetExceeded = errors.New("call budget exceeded")
	// ErrToolFailed marks a call the tool itself reported as failed.
	ErrToolFailed = errors.New("tool reported failure")
	// ErrEmptyContinuation is returned when a continuation directive renders
	// to blank text.
	ErrEmptyContinuation = errors.New("continuation rendered to empty text")
)

// Dispatcher is the only capability a running plan has: invoking a tool by name.
type Dispatcher interface {
	Call(ctx context.Context, tool string, args map[string]any) (capability.InvocationResult, error)
}

// Plan outcomes reported to Metrics.Plan.
const (
	OutcomeFinal     = "final"
	OutcomeContinue  = "continue"
	OutcomeInvalid   = "invalid"
	OutcomeBudget    = "budget_exceeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	Step func(ctx context.Context, step planner.PlanStep, ok bool, took time.Duration)
	Plan func(ctx context.Context, outcome string)
}

// Option configures executor behaviour.
type Option func(*Executor)

// WithCheckpointManager sets the checkpoint manager implementation.
func WithCheckpointManager(mgr CheckpointManager) Option {
	return func(ex *Executor) {
		ex.checkpoints = mgr
	}
}

// WithMetrics sets executor metrics callbacks.
func WithMetrics(m Metrics) Option {
	return func(ex *Executor) {
		ex.metrics = m
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option {
	return func(ex *Executor) {
		if l != nil {
			ex.logger = l
		}
	}
}

// Executor runs plans sequentially. It holds no per-plan state and is safe
// for concurrent use.
type Executor struct {
	policy      *Policy
	checkpoints CheckpointManager
	metrics     Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
}

// New creates an executor bound by policy (nil means defaults).
func New(policy *Policy, opts ...Option) *Executor {
	if policy == nil {
		policy = &Policy{}
		policy.normalize()
	}
	ex := &Executor{
		policy:      policy,
		checkpoints: NewNoopCheckpointManager(),
		logger:      zap.NewNop(),
		tracer:      otel.Tracer("cortex/internal/executor"),
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// Policy returns the policy the executor enforces.
func (e *Executor) Policy() *Policy { return e.policy }

// CallRecord is one issued call and its materialized result.
type CallRecord struct {
	Step          int            `json:"step"`
	Tool          string         `json:"tool"`
	Args          map[string]any `json:"args"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ServerID      string         `json:"server_id,omitempty"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	Latency       time.Duration  `json:"latency"`
}

// Outcome is the resolved terminal directive of a successful plan.
type Outcome struct {
	Kind planner.DirectiveKind `json:"kind"`
	Text string                `json:"text"`
}

// Report describes what a plan did. On failure it still carries every call
// issued before the failure.
type Report struct {
	RunID      string       `json:"run_id"`
	Calls      []CallRecord `json:"calls"`
	Outcome    *Outcome     `json:"outcome,omitempty"`
	FailedStep int          `json:"failed_step"`
	CallsUsed  int          `json:"calls_used"`
}

// StepError reports the failed step. It matches both ErrExecution and the
// underlying cause under errors.Is.
type StepError struct {
	Step int
	Tool string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %d (%s): %v", ErrExecution, e.Step, e.Tool, e.Err)
}

func (e *StepError) Unwrap() []error { return []error{ErrExecution, e.Err} }

// Execute validates plan and runs it. Validation failures issue no calls.
func (e *Executor) Execute(ctx context.Context, runID string, plan planner.Plan, d Dispatcher) (report Report, err error) {
	report = Report{RunID: runID, FailedStep: -1}

	ctx, span := e.tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("plan.steps", len(plan.Steps)),
	))
	defer func() {
		outcome := planOutcome(report, err)
		span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("calls", report.CallsUsed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if e.metrics.Plan != nil {
			e.metrics.Plan(ctx, outcome)
		}
	}()

	if err := validate(plan, e.policy); err != nil {
		return report, err
	}
	if d == nil {
		return report, errors.New("executor: nil dispatcher")
	}

	monitor := budget.NewMonitor(e.policy.Budget())
	if err := e.checkpoints.StartPlan(ctx, runID, plan); err != nil {
		return report, err
	}

	results := make([]any, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := monitor.CheckTime(); err != nil {
			report.FailedStep = step.Index
			return report, &StepError{Step: step.Index, Tool: step.Tool, Err: err}
		}
		if err := monitor.Reserve(); err != nil {
			report.FailedStep = step.Index
			_ = e.checkpoints.SaveStepFailure(ctx, runID, step, err)
			return report, fmt.Errorf("%w: %w", ErrCallBudgetExceeded, err)
		}

		args, err := planner.ResolveArgs(step, results)
		if err != nil {
			report.FailedStep = step.Index
			return report, &StepError{Step: step.Index, Tool: step.Tool, Err: err}
		}
		if err := e.checkpoints.SaveStepStart(ctx, runID, step); err != nil {
			return report, err
		}

		rec, value, err := e.runStep(ctx, step, args, d)
		report.Calls = append(report.Calls, rec)
		report.CallsUsed++
		if err != nil {
			report.FailedStep = step.Index
			_ = e.checkpoints.SaveStepFailure(ctx, runID, step, err)
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return report, ctxErr
			}
			return report, &StepError{Step: step.Index, Tool: step.Tool, Err: err}
		}
		if err := e.checkpoints.SaveStepSuccess(ctx, runID, rec); err != nil {
			return report, err
		}
		results = append(results, value)
	}

	text, err := plan.Directive.Render(results)
	if err != nil {
		return report, &StepError{Step: len(plan.Steps), Tool: "directive", Err: err}
	}
	if plan.Directive.Kind == planner.DirectiveContinue && strings.TrimSpace(text) == "" {
		return report, &StepError{Step: len(plan.Steps), Tool: "directive", Err: ErrEmptyContinuation}
	}
	calls, elapsed := monitor.Usage()
	e.logger.Debug("plan finished",
		zap.String("run_id", runID),
		zap.Int("calls", calls),
		zap.Int("calls_left", monitor.Remaining()),
		zap.Duration("elapsed", elapsed))
	report.Outcome = &Outcome{Kind: plan.Directive.Kind, Text: text}
	return report, nil
}

func (e *Executor) runStep(ctx context.Context, step planner.PlanStep, args map[string]any, d Dispatcher) (CallRecord, any, error) {
	rec := CallRecord{Step: step.Index, Tool: step.Tool, Args: args}
	started := time.Now()
	// The dispatcher gets its own copy so the recorded args stay intact.
	res, err := d.Call(ctx, step.Tool, planner.DeepCopy(args).(map[string]any))
	rec.Latency = time.Since(started)
	rec.CorrelationID = res.CorrelationID
	rec.ServerID = res.ServerID
	ok := false
	defer func() {
		if e.metrics.Step != nil {
			e.metrics.Step(ctx, step, ok, rec.Latency)
		}
	}()

	if err != nil {
		rec.Error = err.Error()
		return rec, nil, err
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = res.Text()
		}
		rec.Error = msg
		return rec, nil, fmt.Errorf("%w: %s", ErrToolFailed, msg)
	}
	value, err := ParseResult(res)
	if err != nil {
		rec.Error = err.Error()
		return rec, nil, err
	}
	rec.Result = planner.DeepCopy(value)
	ok = true
	return rec, value, nil
}

func validate(plan planner.Plan, policy *Policy) error {
	err := planner.Validate(plan)
	problems := policy.Check(plan)
	if len(problems) == 0 {
		return err
	}
	var verr *planner.ValidationError
	if errors.As(err, &verr) {
		problems = append(verr.Problems, problems...)
	}
	return &planner.ValidationError{Problems: problems}
}

func planOutcome(r Report, err error) string {
	switch {
	case err == nil && r.Outcome != nil && r.Outcome.Kind == planner.DirectiveContinue:
		return OutcomeContinue
	case err == nil:
		return OutcomeFinal
	case errors.Is(err, planner.ErrPlanValidation):
		return OutcomeInvalid
	case errors.Is(err, ErrCallBudgetExceeded):
		return OutcomeBudget
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
