package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/capability"
)

// ReloadScheduler reloads the catalog on a cron schedule.
type ReloadScheduler struct {
	Registry CatalogRegistry
	Servers  []capability.ServerDescriptor
	Logger   *zap.Logger

	expr *cronexpr.Expression
	now  func() time.Time
}

// NewReloadScheduler parses spec, a 5-field cron expression or a macro such
// as @hourly.
func NewReloadScheduler(spec string, reg CatalogRegistry, servers []capability.ServerDescriptor, logger *zap.Logger) (*ReloadScheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("capability.reload_cron: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReloadScheduler{Registry: reg, Servers: servers, Logger: logger, expr: expr, now: time.Now}, nil
}

// Next is the first fire time strictly after from; zero when none.
func (s *ReloadScheduler) Next(from time.Time) time.Time { return s.expr.Next(from) }

// Run blocks until ctx is done, reloading at every fire time. A failed
// reload keeps the previous catalog.
func (s *ReloadScheduler) Run(ctx context.Context) {
	for {
		next := s.Next(s.now())
		if next.IsZero() {
			s.Logger.Warn("reload schedule has no future fire times")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *ReloadScheduler) tick(ctx context.Context) {
	started := s.now()
	if err := s.Registry.Reload(ctx, s.Servers); err != nil {
		s.Logger.Warn("scheduled reload failed", zap.Error(err))
		return
	}
	s.Logger.Info("scheduled reload",
		zap.Int64("version", s.Registry.Catalog().Version),
		zap.Duration("took", s.now().Sub(started)),
	)
}
