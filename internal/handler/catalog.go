package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/LobbyChat/internal/service"
)

type CatalogHandler struct {
	catalogService service.ICatalogService
	logger         *zap.Logger
}

func NewCatalogHandler(catalogService service.ICatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalogService: catalogService, logger: logger}
}

func (h *CatalogHandler) ListPlatforms(c *gin.Context) {
	platforms, err := h.catalogService.ListPlatforms(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, platforms)
}

// ListGames lists games, filtered by ?platform_id= when present
func (h *CatalogHandler) ListGames(c *gin.Context) {
	games, err := h.catalogService.ListGames(c.Request.Context(), c.Query("platform_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, games)
}
