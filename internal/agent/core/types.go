package core

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/executor"
	"github.com/mohammad-safakhou/cortex/internal/planner"
)

var (
	// ErrReasonerFailure marks a Perceive or Decide call that failed.
	ErrReasonerFailure = errors.New("reasoner failure")
	// ErrStepExhausted is recorded when a step used up its lifelines.
	ErrStepExhausted = errors.New("step exhausted its lifelines")
	// ErrRunExhausted is the reason attached to a run that hit max steps.
	ErrRunExhausted = errors.New("run exhausted its steps")
	// ErrInputRejected is returned when the input guard refuses a request.
	ErrInputRejected = errors.New("input rejected")
)

// SentinelAnswer is the answer of a run that ended without a final answer.
const SentinelAnswer = "could not complete"

// State is the orchestration loop state.
type State string

const (
	StatePerceiving          State = "perceiving"
	StateDeciding            State = "deciding"
	StateActing              State = "acting"
	StateRecording           State = "recording"
	StateTerminatedSuccess   State = "terminated_success"
	StateTerminatedExhausted State = "terminated_exhausted"
	StateTerminatedCancelled State = "terminated_cancelled"
)

// Phase names the part of a step that consumed a lifeline.
type Phase string

const (
	PhasePerceive Phase = "perceive"
	PhaseDecide   Phase = "decide"
	PhaseAct      Phase = "act"
)

// RunContext is the state of one run. It is owned by the run and threaded
// explicitly through every phase.
type RunContext struct {
	SessionID     string
	OriginalInput string
	// OverrideInput replaces OriginalInput for every phase once HasOverride
	// is set, even when it is empty.
	OverrideInput string
	HasOverride   bool
	Step          int
	// Lifelines counts failures consumed in the current step.
	Lifelines int
	State     State
}

// SetOverride makes followup the input of every later step.
func (rc *RunContext) SetOverride(followup string) {
	rc.OverrideInput = followup
	rc.HasOverride = true
}

// EffectiveInput is the input every phase of the current step works on.
func (rc *RunContext) EffectiveInput() string {
	if rc.HasOverride {
		return rc.OverrideInput
	}
	return rc.OriginalInput
}

// Perception is the reasoner's reading of the input.
type Perception struct {
	Intent          string   `json:"intent"`
	Entities        []string `json:"entities,omitempty"`
	ToolHint        string   `json:"tool_hint,omitempty"`
	SelectedServers []string `json:"selected_servers,omitempty"`
}

// StepMetadata is what Decide knows about the run besides the input.
type StepMetadata struct {
	SessionID       string   `json:"session_id"`
	Step            int      `json:"step"`
	MaxSteps        int      `json:"max_steps"`
	Attempt         int      `json:"attempt"`
	PlanningMode    string   `json:"planning_mode"`
	ExplorationMode string   `json:"exploration_mode"`
	Replan          bool     `json:"replan"`
	FailedTools     []string `json:"failed_tools,omitempty"`
	LastError       string   `json:"last_error,omitempty"`
	// RecentSuccessfulTools comes from run memory, most recent first.
	RecentSuccessfulTools []string     `json:"recent_successful_tools,omitempty"`
	History               []StepRecord `json:"-"`
}

// StepOutcome is how a step ended.
type StepOutcome string

const (
	StepFinal     StepOutcome = "final"
	StepContinue  StepOutcome = "continue"
	StepExhausted StepOutcome = "step_exhausted"
	StepCancelled StepOutcome = "cancelled"
)

// Failure is one consumed lifeline.
type Failure struct {
	Phase   Phase  `json:"phase"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error"`
}

// StepRecord is what run memory keeps for each step.
type StepRecord struct {
	SessionID         string                `json:"session_id"`
	Step              int                   `json:"step"`
	OriginalInput     string                `json:"original_input"`
	EffectiveInput    string                `json:"effective_input"`
	Perception        *Perception           `json:"perception,omitempty"`
	Plan              *planner.Plan         `json:"plan,omitempty"`
	Outcome           StepOutcome           `json:"outcome"`
	Calls             []executor.CallRecord `json:"calls,omitempty"`
	Failures          []Failure             `json:"failures,omitempty"`
	LifelinesConsumed int                   `json:"lifelines_consumed"`
	FinalAnswer       string                `json:"final_answer,omitempty"`
	Followup          string                `json:"followup,omitempty"`
	RecordedAt        time.Time             `json:"recorded_at"`
}

// SuccessfulTools lists tools whose calls succeeded in this step.
func (r StepRecord) SuccessfulTools() []string {
	var out []string
	for _, c := range r.Calls {
		if c.Error == "" {
			out = append(out, c.Tool)
		}
	}
	return out
}

// Result is the terminal outcome of a run.
type Result struct {
	SessionID string        `json:"session_id"`
	State     State         `json:"state"`
	Answer    string        `json:"answer"`
	Reason    error         `json:"-"`
	Steps     []StepRecord  `json:"steps"`
	Duration  time.Duration `json:"duration"`
}

// Reasoner interface defines the contract for the model behind perception
// and decision. Implementations are opaque to the loop.
type Reasoner interface {
	Perceive(ctx context.Context, input string, servers []capability.ServerSummary) (Perception, error)
	Decide(ctx context.Context, perception Perception, input string, tools []capability.ToolDescriptor, meta StepMetadata) (planner.Plan, error)
}

// RunMemory interface defines the contract for per-session step storage.
type RunMemory interface {
	Record(ctx context.Context, rec StepRecord) error
	Fetch(ctx context.Context, sessionID string) ([]StepRecord, error)
}

// CatalogSource hands out the current tool catalog snapshot.
type CatalogSource interface {
	Catalog() *capability.Catalog
}

// Guard screens raw input before a run starts. It returns the input to use
// or an error when the input must not be processed.
type Guard interface {
	Check(input string) (string, error)
}

// Injector enriches the original input with outside context.
type Injector interface {
	Inject(ctx context.Context, input string) string
}
