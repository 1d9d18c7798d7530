package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/planner"
)

// CheckpointManager observes executor progress step by step.
type CheckpointManager interface {
	StartPlan(ctx context.Context, runID string, plan planner.Plan) error
	SaveStepStart(ctx context.Context, runID string, step planner.PlanStep) error
	SaveStepSuccess(ctx context.Context, runID string, rec CallRecord) error
	SaveStepFailure(ctx context.Context, runID string, step planner.PlanStep, err error) error
}

// NoopCheckpointManager is a default implementation that records nothing.
type NoopCheckpointManager struct{}

// NewNoopCheckpointManager returns a checkpoint manager that does nothing.
func NewNoopCheckpointManager() *NoopCheckpointManager { return &NoopCheckpointManager{} }

func (NoopCheckpointManager) StartPlan(ctx context.Context, runID string, plan planner.Plan) error {
	return nil
}
func (NoopCheckpointManager) SaveStepStart(ctx context.Context, runID string, step planner.PlanStep) error {
	return nil
}
func (NoopCheckpointManager) SaveStepSuccess(ctx context.Context, runID string, rec CallRecord) error {
	return nil
}
func (NoopCheckpointManager) SaveStepFailure(ctx context.Context, runID string, step planner.PlanStep, err error) error {
	return nil
}

// LogCheckpointManager writes every checkpoint to a structured logger.
type LogCheckpointManager struct {
	logger *zap.Logger
}

// NewLogCheckpointManager constructs a CheckpointManager backed by logger.
func NewLogCheckpointManager(logger *zap.Logger) *LogCheckpointManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogCheckpointManager{logger: logger}
}

func (m *LogCheckpointManager) StartPlan(ctx context.Context, runID string, plan planner.Plan) error {
	m.logger.Debug("plan start",
		zap.String("run_id", runID),
		zap.Strings("tools", plan.Tools()),
		zap.String("directive", plan.Directive.Kind.String()))
	return nil
}

func (m *LogCheckpointManager) SaveStepStart(ctx context.Context, runID string, step planner.PlanStep) error {
	m.logger.Debug("step start", zap.String("run_id", runID), zap.Int("step", step.Index), zap.String("tool", step.Tool))
	return nil
}

func (m *LogCheckpointManager) SaveStepSuccess(ctx context.Context, runID string, rec CallRecord) error {
	m.logger.Debug("step ok",
		zap.String("run_id", runID),
		zap.Int("step", rec.Step),
		zap.String("tool", rec.Tool),
		zap.String("correlation_id", rec.CorrelationID),
		zap.Duration("took", rec.Latency))
	return nil
}

func (m *LogCheckpointManager) SaveStepFailure(ctx context.Context, runID string, step planner.PlanStep, err error) error {
	m.logger.Info("step failed", zap.String("run_id", runID), zap.Int("step", step.Index), zap.String("tool", step.Tool), zap.Error(err))
	return nil
}
