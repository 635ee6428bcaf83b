package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/cache"
	"github.com/calder-ai/modelgate/internal/gateway"
	"github.com/calder-ai/modelgate/pkg/api"
)

const (
	capabilitiesCacheKey = "capabilities"
	capabilitiesCacheTTL = 30 * time.Second
)

type CapabilitiesHandler struct {
	service gateway.Service
	cache   cache.CacheService
	logger  *zap.Logger
}

func NewCapabilitiesHandler(service gateway.Service, c cache.CacheService, logger *zap.Logger) *CapabilitiesHandler {
	return &CapabilitiesHandler{service: service, cache: c, logger: logger}
}

// Get handles GET /v1/capabilities. The capability read itself is
// cheap, but clients poll this endpoint, so it is cached briefly.
func (h *CapabilitiesHandler) Get(c *gin.Context) {
	var cached api.Capabilities
	if err := h.cache.Get(c.Request.Context(), capabilitiesCacheKey, &cached); err == nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	caps, err := h.service.Capabilities()
	if err != nil {
		_ = c.Error(err)
		return
	}

	if err := h.cache.Set(c.Request.Context(), capabilitiesCacheKey, caps, capabilitiesCacheTTL); err != nil {
		h.logger.Warn("Could not cache capabilities", zap.Error(err))
	}

	c.JSON(http.StatusOK, caps)
}
