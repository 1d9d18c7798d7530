package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/mcp"
)

// EnsureCapabilityRegistry builds a registry over stdio workers and runs
// the first discovery. Servers that fail discovery are logged and left out.
func EnsureCapabilityRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *Metrics) (*capability.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewCapabilityRegistry(ctx, cfg, mcp.NewStdioLauncher(logger.Named("worker")), logger, metrics)
}

// NewCapabilityRegistry is EnsureCapabilityRegistry with an explicit launcher.
func NewCapabilityRegistry(ctx context.Context, cfg *config.Config, launcher capability.Launcher, logger *zap.Logger, metrics *Metrics) (*capability.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg, err := capability.New(launcher,
		capability.WithLogger(logger.Named("capability")),
		capability.WithCallTimeout(cfg.Capability.CallTimeout),
		capability.WithDiscoveryTimeout(cfg.Capability.DiscoveryTimeout),
		capability.WithSchemaCacheSize(cfg.Capability.SchemaCacheSize),
		capability.WithMetrics(metrics.Capability()),
	)
	if err != nil {
		return nil, err
	}
	if err := reg.Initialize(ctx, capability.DescriptorsFromConfig(cfg.Servers)); err != nil {
		return nil, err
	}
	return reg, nil
}
