// Package memory implements run memory backends: step records kept per
// session in process, on disk, in Redis or in Postgres.
package memory

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/agent/core"
)

// ErrInvalidSession is returned for a session id that cannot name storage.
var ErrInvalidSession = errors.New("invalid session id")

// Store is a run memory that can also enumerate its sessions.
type Store interface {
	core.RunMemory
	Sessions(ctx context.Context) ([]string, error)
	Close() error
}

type Backend string

const (
	BackendInMemory Backend = "inmemory"
	BackendFile     Backend = "file"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// New opens the backend cfg selects.
func New(ctx context.Context, cfg config.MemoryConfig, logger *zap.Logger) (Store, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch Backend(cfg.Backend) {
	case BackendInMemory:
		return NewInMemory(), nil
	case BackendFile:
		return NewFile(cfg.File.Dir)
	case BackendRedis:
		client, err := ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("run memory on redis", zap.String("addr", cfg.Redis.Addr()))
		return NewRedis(client, cfg.Retention), nil
	case BackendPostgres:
		db, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("run memory on postgres")
		return NewPostgres(db), nil
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", cfg.Backend)
	}
}

// validSessionID rejects ids that are empty or would escape a base path.
func validSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSession)
	}
	if strings.HasPrefix(id, "/") || path.Clean(id) != id || strings.Contains(id, "..") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	return nil
}
