package runtime

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/agent/heuristics"
	"github.com/mohammad-safakhou/cortex/internal/agent/history"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/executor"
	"github.com/mohammad-safakhou/cortex/internal/memory"
	"github.com/mohammad-safakhou/cortex/internal/reasoner"
)

// Agent is a fully wired control core.
type Agent struct {
	Config       *config.Config
	Registry     *capability.Registry
	Orchestrator *core.Orchestrator
	Memory       memory.Store
	Telemetry    *Telemetry
}

// AgentOptions replaces collaborators that are otherwise built from config.
type AgentOptions struct {
	Launcher capability.Launcher
	Reasoner core.Reasoner
	Memory   memory.Store
}

// BuildAgent discovers the configured servers and wires memory, sandbox,
// guardrails, history injection and the reasoner into an orchestrator.
func BuildAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger, tel *Telemetry, opts AgentOptions) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tel == nil {
		tel = SetupTelemetry(config.TelemetryConfig{}, "cortex", logger)
	}

	policy, err := executor.LoadPolicy(cfg.Sandbox)
	if err != nil {
		return nil, err
	}

	launcher := opts.Launcher
	var reg *capability.Registry
	if launcher == nil {
		reg, err = EnsureCapabilityRegistry(ctx, cfg, logger, tel.Metrics)
	} else {
		reg, err = NewCapabilityRegistry(ctx, cfg, launcher, logger, tel.Metrics)
	}
	if err != nil {
		return nil, fmt.Errorf("capability registry: %w", err)
	}

	store := opts.Memory
	if store == nil {
		store, err = memory.New(ctx, cfg.Memory, logger.Named("memory"))
		if err != nil {
			return nil, fmt.Errorf("run memory: %w", err)
		}
	}

	rsn := opts.Reasoner
	if rsn == nil {
		gen, err := reasoner.NewGemini(ctx, cfg.Reasoner)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("reasoner: %w", err)
		}
		rsn = reasoner.New(gen, reasoner.WithLogger(logger.Named("reasoner")), reasoner.WithMaxCalls(policy.MaxCalls))
	}

	ex := executor.New(policy,
		executor.WithLogger(logger.Named("executor")),
		executor.WithMetrics(tel.Metrics.Executor()),
		executor.WithCheckpointManager(executor.NewLogCheckpointManager(logger.Named("checkpoint"))),
	)

	coreOpts := []core.Option{
		core.WithLogger(logger.Named("orchestrator")),
		core.WithMemory(store),
		core.WithMetrics(tel.Metrics.Core()),
		core.WithStrategy(cfg.Strategy),
	}
	if cfg.Guard.Enabled {
		coreOpts = append(coreOpts, core.WithGuard(heuristics.New()))
	}
	if cfg.History.Enabled {
		if err := reg.Catalog().Require(cfg.History.Tool); err != nil {
			logger.Warn("history tool missing from catalog", zap.Error(err))
		}
		coreOpts = append(coreOpts, core.WithInjector(history.NewInjector(reg, cfg.History, logger.Named("history"))))
	}
	orch, err := core.New(reg, reg, ex, rsn, coreOpts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Agent{Config: cfg, Registry: reg, Orchestrator: orch, Memory: store, Telemetry: tel}, nil
}

func (a *Agent) Run(ctx context.Context, input string) (core.Result, error) {
	return a.Orchestrator.Run(ctx, input)
}

func (a *Agent) Close() error {
	if a == nil || a.Memory == nil {
		return nil
	}
	return a.Memory.Close()
}
