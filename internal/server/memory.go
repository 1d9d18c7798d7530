package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/cortex/internal/memory"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

// SessionsHandler reads run memory. Session ids contain slashes, so the
// record route takes the rest of the path.
type SessionsHandler struct {
	Store SessionStore
}

func (h *SessionsHandler) Register(g *echo.Group) {
	scope := runtime.RequireScopes(ScopeSessionsRead)
	g.GET("", h.list, scope)
	g.GET("/*", h.get, scope)
}

func (h *SessionsHandler) list(c echo.Context) error {
	ids, err := h.Store.Sessions(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(http.StatusOK, SessionsResponse{Sessions: ids})
}

func (h *SessionsHandler) get(c echo.Context) error {
	id, err := url.PathUnescape(c.Param("*"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id = strings.Trim(id, "/")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id required")
	}
	recs, err := h.Store.Fetch(c.Request().Context(), id)
	if errors.Is(err, memory.ErrInvalidSession) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(recs) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, recs)
}
