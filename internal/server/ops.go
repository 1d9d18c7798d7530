package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// OpsHandler serves liveness and readiness probes.
type OpsHandler struct {
	Registry CatalogRegistry
}

func (h *OpsHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.healthz)
	e.GET("/readyz", h.readyz)
}

func (h *OpsHandler) healthz(c echo.Context) error { return c.String(http.StatusOK, "ok") }

// readyz is 503 until at least one server answered discovery.
func (h *OpsHandler) readyz(c echo.Context) error {
	cat := h.Registry.Catalog()
	body := map[string]any{"catalog_version": cat.Version, "live_servers": cat.LiveServers(), "tools": cat.Len()}
	if cat.LiveServers() == 0 {
		return c.JSON(http.StatusServiceUnavailable, body)
	}
	return c.JSON(http.StatusOK, body)
}
