package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/internal/capability"
	"github.com/mohammad-safakhou/cortex/internal/runtime"
)

// CatalogHandler exposes the capability catalog.
type CatalogHandler struct {
	Registry CatalogRegistry
	Servers  []capability.ServerDescriptor
	Logger   *zap.Logger
}

func (h *CatalogHandler) Register(g *echo.Group) {
	g.GET("", h.get)
	g.POST("/reload", h.reload, runtime.RequireScopes(runtime.ScopeCatalogReload))
}

func (h *CatalogHandler) get(c echo.Context) error {
	return c.JSON(http.StatusOK, catalogResponse(h.Registry.Catalog()))
}

// reload rediscovers the configured servers. It returns once the new catalog
// is installed.
func (h *CatalogHandler) reload(c echo.Context) error {
	if err := h.Registry.Reload(c.Request().Context(), h.Servers); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	cat := h.Registry.Catalog()
	sub, _ := runtime.SubjectFromContext(c.Request().Context())
	h.Logger.Info("catalog reloaded by request", zap.String("subject", sub), zap.Int64("version", cat.Version))
	return c.JSON(http.StatusOK, catalogResponse(cat))
}
