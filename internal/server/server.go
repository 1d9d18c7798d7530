// Package server is the operations HTTP surface: health, metrics, the
// capability catalog and its reload, runs and run memory.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

// Scopes checked by the /v1 routes besides runtime.ScopeCatalogReload.
const (
	ScopeRunsCreate   = "runs:create"
	ScopeSessionsRead = "sessions:read"
)

// CatalogRegistry is the part of the capability registry the server uses.
type CatalogRegistry interface {
	Catalog() *capability.Catalog
	Reload(ctx context.Context, servers []capability.ServerDescriptor) error
}

// Runner starts runs.
type Runner interface {
	Run(ctx context.Context, input string) (core.Result, error)
}

// SessionStore lists and reads run memory.
type SessionStore interface {
	Sessions(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, sessionID string) ([]core.StepRecord, error)
}

// Options wires the server. Registry and Secret are required; a nil Runner
// or Sessions leaves the matching routes out.
type Options struct {
	Registry CatalogRegistry
	Servers  []capability.ServerDescriptor
	Runner   Runner
	Sessions SessionStore
	Metrics  http.Handler
	Secret   []byte
	Logger   *zap.Logger
}

type Server struct {
	echo   *echo.Echo
	logger *zap.Logger
}

func New(opts Options) (*Server, error) {
	if opts.Registry == nil {
		return nil, errors.New("server: registry required")
	}
	if len(opts.Secret) == 0 {
		return nil, errors.New("server: jwt secret required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Info("http error",
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.Error(err),
		)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}

	ops := &OpsHandler{Registry: opts.Registry}
	ops.Register(e)
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	v1 := e.Group("/v1", runtime.EchoAuthMiddleware(opts.Secret))
	(&CatalogHandler{Registry: opts.Registry, Servers: opts.Servers, Logger: logger.Named("catalog")}).Register(v1.Group("/catalog"))
	if opts.Runner != nil {
		(&RunsHandler{Runner: opts.Runner, Logger: logger.Named("runs")}).Register(v1.Group("/runs"))
	}
	if opts.Sessions != nil {
		(&SessionsHandler{Store: opts.Sessions}).Register(v1.Group("/sessions"))
	}

	return &Server{echo: e, logger: logger}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on addr until ctx is cancelled, then drains for up to five
// seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
