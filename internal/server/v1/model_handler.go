package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/cache"
	"github.com/calder-ai/modelgate/internal/gateway"
	"github.com/calder-ai/modelgate/internal/server/middleware"
	"github.com/calder-ai/modelgate/internal/server/validator"
	"github.com/calder-ai/modelgate/pkg/api"
)

const (
	modelsCacheKey = "models"
	modelsCacheTTL = time.Minute
)

type ModelHandler struct {
	service gateway.Service
	cache   cache.CacheService
	logger  *zap.Logger
}

func NewModelHandler(service gateway.Service, c cache.CacheService, logger *zap.Logger) *ModelHandler {
	return &ModelHandler{service: service, cache: c, logger: logger}
}

// List handles GET /v1/models.
func (h *ModelHandler) List(c *gin.Context) {
	var cached api.ModelsResponse
	if err := h.cache.Get(c.Request.Context(), modelsCacheKey, &cached); err == nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	models, err := h.service.Models(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := api.ModelsResponse{Models: models}
	if err := h.cache.Set(c.Request.Context(), modelsCacheKey, resp, modelsCacheTTL); err != nil {
		h.logger.Warn("Could not cache model listing", zap.Error(err))
	}

	c.JSON(http.StatusOK, resp)
}

// Pull handles POST /v1/models/pull, streaming download progress as
// SSE. Progress events arrive on the request goroutine, so they are
// written and flushed inline.
func (h *ModelHandler) Pull(c *gin.Context) {
	var req api.PullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationProblem(validator.ParseError(err)))
		return
	}

	streaming := false
	onProgress := func(p api.PullProgress) {
		if !streaming {
			writeSSEHeaders(c)
			streaming = true
		}
		data, err := json.Marshal(p)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}

	err := h.service.PullModel(c.Request.Context(), req.Model, onProgress)
	if err != nil {
		if !streaming {
			_ = c.Error(err)
			return
		}
		problem := middleware.ProblemFromError(err)
		data, _ := json.Marshal(gin.H{"error": problem})
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
		return
	}

	if !streaming {
		writeSSEHeaders(c)
	}
	_, _ = io.WriteString(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()

	// the listing is stale once a pull lands
	_ = h.cache.Delete(c.Request.Context(), modelsCacheKey)
}
