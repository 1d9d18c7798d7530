// Package core runs the perceive, decide, act and record loop of the agent.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/executor"
	"github.com/mohammad-safakhou/cortex/internal/planner"
)

// Metrics aggregates optional telemetry callbacks.
type Metrics struct {
	Lifeline func(phase Phase)
	Step     func(outcome StepOutcome)
	Run      func(state State, took time.Duration)
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. A nil logger keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMemory sets where step records are kept.
func WithMemory(m RunMemory) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.memory = m
		}
	}
}

// WithGuard screens input before a run starts.
func WithGuard(g Guard) Option {
	return func(o *Orchestrator) { o.guard = g }
}

// WithInjector enriches the original input before the first step.
func WithInjector(i Injector) Option {
	return func(o *Orchestrator) { o.injector = i }
}

// WithMetrics sets lifeline, step and run callbacks.
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStrategy sets step bounds and the planning mode.
func WithStrategy(cfg config.StrategyConfig) Option {
	return func(o *Orchestrator) { o.strategyCfg = cfg }
}

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newSession = gen
		}
	}
}

// Orchestrator drives runs. It keeps no per-run state, so one instance can
// serve many concurrent runs.
type Orchestrator struct {
	catalogs    CatalogSource
	dispatcher  executor.Dispatcher
	executor    *executor.Executor
	reasoner    Reasoner
	memory      RunMemory
	guard       Guard
	injector    Injector
	strategyCfg config.StrategyConfig
	strategy    Strategy
	metrics     Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	newSession  func() string
}

// New wires an orchestrator. A nil executor means default sandbox limits.
func New(catalogs CatalogSource, dispatcher executor.Dispatcher, ex *executor.Executor, reasoner Reasoner, opts ...Option) (*Orchestrator, error) {
	if catalogs == nil {
		return nil, errors.New("orchestrator: catalog source required")
	}
	if dispatcher == nil {
		return nil, errors.New("orchestrator: dispatcher required")
	}
	if reasoner == nil {
		return nil, errors.New("orchestrator: reasoner required")
	}
	if ex == nil {
		ex = executor.New(nil)
	}
	o := &Orchestrator{
		catalogs:   catalogs,
		dispatcher: dispatcher,
		executor:   ex,
		reasoner:   reasoner,
		memory:     nopMemory{},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("cortex/internal/agent/core"),
		newSession: func() string { return NewSessionID(time.Now()) },
	}
	for _, opt := range opts {
		opt(o)
	}
	o.strategy = NewStrategy(o.strategyCfg, o.logger.Named("strategy"))
	return o, nil
}

// Run processes one request until a final answer, exhaustion or
// cancellation. Exhaustion is not an error: the result carries
// SentinelAnswer and ErrRunExhausted as its reason. Cancellation returns the
// context error together with the steps recorded so far.
func (o *Orchestrator) Run(ctx context.Context, input string) (res Result, err error) {
	started := time.Now()
	if o.guard != nil {
		clean, gerr := o.guard.Check(input)
		if gerr != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInputRejected, gerr)
		}
		input = clean
	}
	if o.injector != nil {
		input = o.injector.Inject(ctx, input)
	}

	rc := &RunContext{SessionID: o.newSession(), OriginalInput: input, State: StatePerceiving}
	res.SessionID = rc.SessionID

	ctx, span := o.tracer.Start(ctx, "agent.run", trace.WithAttributes(attribute.String("session_id", rc.SessionID)))
	defer func() {
		res.Duration = time.Since(started)
		span.SetAttributes(attribute.String("state", string(res.State)), attribute.Int("steps", len(res.Steps)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(res.State))
		}
		span.End()
		if o.metrics.Run != nil {
			o.metrics.Run(res.State, res.Duration)
		}
		o.logger.Info("run finished",
			zap.String("session_id", rc.SessionID),
			zap.String("state", string(res.State)),
			zap.Int("steps", len(res.Steps)),
			zap.Duration("took", res.Duration))
	}()

	maxSteps := o.strategy.Config().MaxSteps
	for rc.Step = 0; rc.Step < maxSteps; rc.Step++ {
		rec := o.runStep(ctx, rc)

		rc.State = StateRecording
		o.record(ctx, rec)
		res.Steps = append(res.Steps, rec)
		if o.metrics.Step != nil {
			o.metrics.Step(rec.Outcome)
		}

		switch rec.Outcome {
		case StepFinal:
			rc.State = StateTerminatedSuccess
			res.State = rc.State
			res.Answer = rec.FinalAnswer
			return res, nil
		case StepContinue:
			rc.SetOverride(rec.Followup)
			o.logger.Debug("continuing with followup",
				zap.String("session_id", rc.SessionID),
				zap.Int("step", rc.Step),
				zap.String("followup", rec.Followup))
		case StepCancelled:
			rc.State = StateTerminatedCancelled
			res.State = rc.State
			res.Reason = ctx.Err()
			return res, ctx.Err()
		case StepExhausted:
			o.logger.Warn("step exhausted",
				zap.String("session_id", rc.SessionID),
				zap.Int("step", rc.Step),
				zap.Error(ErrStepExhausted))
		}
	}

	rc.State = StateTerminatedExhausted
	res.State = rc.State
	res.Answer = SentinelAnswer
	res.Reason = ErrRunExhausted
	return res, nil
}

// runStep executes one step. The effective input is captured once so that
// Perceive and every Decide of the step see the same value.
func (o *Orchestrator) runStep(ctx context.Context, rc *RunContext) StepRecord {
	effective := rc.EffectiveInput()
	rc.Lifelines = 0

	ctx, span := o.tracer.Start(ctx, "agent.step", trace.WithAttributes(
		attribute.String("session_id", rc.SessionID),
		attribute.Int("step", rc.Step),
	))
	defer span.End()

	rec := StepRecord{
		SessionID:      rc.SessionID,
		Step:           rc.Step,
		OriginalInput:  rc.OriginalInput,
		EffectiveInput: effective,
	}
	cfg := o.strategy.Config()
	meta := o.metadata(ctx, rc)
	cat := o.catalogs.Catalog()

	finish := func(outcome StepOutcome) StepRecord {
		rec.Outcome = outcome
		rec.LifelinesConsumed = rc.Lifelines
		rec.RecordedAt = time.Now().UTC()
		span.SetAttributes(attribute.String("outcome", string(outcome)), attribute.Int("lifelines", rc.Lifelines))
		return rec
	}
	consume := func(phase Phase, err error) {
		rc.Lifelines++
		rec.Failures = append(rec.Failures, Failure{Phase: phase, Attempt: meta.Attempt, Error: err.Error()})
		if o.metrics.Lifeline != nil {
			o.metrics.Lifeline(phase)
		}
		o.logger.Warn("lifeline consumed",
			zap.String("session_id", rc.SessionID),
			zap.Int("step", rc.Step),
			zap.String("phase", string(phase)),
			zap.Int("consumed", rc.Lifelines),
			zap.Int("max", cfg.MaxLifelinesPerStep),
			zap.Bool("retryable", capability.Retryable(err)),
			zap.Error(err))
	}

	var plan *planner.Plan
	for rc.Lifelines < cfg.MaxLifelinesPerStep {
		if ctx.Err() != nil {
			return finish(StepCancelled)
		}
		meta.Attempt = rc.Lifelines + 1

		if rec.Perception == nil {
			rc.State = StatePerceiving
			p, err := o.reasoner.Perceive(ctx, effective, cat.Summaries())
			if err != nil {
				if ctx.Err() != nil {
					return finish(StepCancelled)
				}
				consume(PhasePerceive, fmt.Errorf("%w: perceive: %v", ErrReasonerFailure, err))
				continue
			}
			rec.Perception = &p
		}

		if plan == nil {
			rc.State = StateDeciding
			tools := o.strategy.Tools(cat, *rec.Perception, meta)
			p, err := o.reasoner.Decide(ctx, *rec.Perception, effective, tools, meta)
			if err != nil {
				if ctx.Err() != nil {
					return finish(StepCancelled)
				}
				consume(PhaseDecide, fmt.Errorf("%w: decide: %v", ErrReasonerFailure, err))
				meta.Replan = true
				meta.LastError = err.Error()
				continue
			}
			plan = &p
			rec.Plan = plan
		}

		rc.State = StateActing
		runID := fmt.Sprintf("%s#%d.%d", rc.SessionID, rc.Step, meta.Attempt)
		report, err := o.executor.Execute(ctx, runID, *plan, o.dispatcher)
		rec.Calls = append(rec.Calls, report.Calls...)
		if err == nil {
			if report.Outcome.Kind == planner.DirectiveContinue {
				rec.Followup = report.Outcome.Text
				return finish(StepContinue)
			}
			rec.FinalAnswer = report.Outcome.Text
			return finish(StepFinal)
		}
		if ctx.Err() != nil {
			return finish(StepCancelled)
		}
		consume(PhaseAct, err)
		meta.Replan = true
		meta.LastError = err.Error()
		if tool := failedTool(report, *plan); tool != "" {
			meta.FailedTools = appendUnique(meta.FailedTools, tool)
		}
		if cfg.RedecideOnFailure {
			plan = nil
		}
	}
	return finish(StepExhausted)
}

func (o *Orchestrator) metadata(ctx context.Context, rc *RunContext) StepMetadata {
	cfg := o.strategy.Config()
	meta := StepMetadata{
		SessionID:       rc.SessionID,
		Step:            rc.Step,
		MaxSteps:        cfg.MaxSteps,
		PlanningMode:    cfg.PlanningMode,
		ExplorationMode: cfg.ExplorationMode,
	}
	history, err := o.memory.Fetch(ctx, rc.SessionID)
	if err != nil {
		o.logger.Warn("fetch run memory", zap.String("session_id", rc.SessionID), zap.Error(err))
		return meta
	}
	meta.History = history
	for i := len(history) - 1; i >= 0; i-- {
		for _, t := range history[i].SuccessfulTools() {
			meta.RecentSuccessfulTools = appendUnique(meta.RecentSuccessfulTools, t)
		}
	}
	return meta
}

// record stores rec even when the run was cancelled.
func (o *Orchestrator) record(ctx context.Context, rec StepRecord) {
	if err := o.memory.Record(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Error("record step", zap.String("session_id", rec.SessionID), zap.Int("step", rec.Step), zap.Error(err))
	}
}

func failedTool(r executor.Report, plan planner.Plan) string {
	if r.FailedStep < 0 || r.FailedStep >= len(plan.Steps) {
		return ""
	}
	return plan.Steps[r.FailedStep].Tool
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

type nopMemory struct{}

func (nopMemory) Record(context.Context, StepRecord) error { return nil }

func (nopMemory) Fetch(context.Context, string) ([]StepRecord, error) { return nil, nil }
