package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/agent/core"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

// RunsHandler starts runs synchronously.
type RunsHandler struct {
	Runner Runner
	Logger *zap.Logger
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.create, runtime.RequireScopes(ScopeRunsCreate))
}

func (h *RunsHandler) create(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Input) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "input is required")
	}
	res, err := h.Runner.Run(c.Request().Context(), req.Input)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, runResponse(res))
	case errors.Is(err, core.ErrInputRejected):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.Logger.Warn("run interrupted", zap.String("session", res.SessionID), zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, runResponse(res))
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
