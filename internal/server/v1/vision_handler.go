package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/modelgate/internal/gateway"
	"github.com/calder-ai/modelgate/internal/server/validator"
	"github.com/calder-ai/modelgate/pkg/api"
)

type VisionHandler struct {
	service gateway.Service
}

func NewVisionHandler(service gateway.Service) *VisionHandler {
	return &VisionHandler{service: service}
}

// AnalyzeImage handles POST /v1/vision. Images arrive as data URIs or
// bare base64; decoding happens during binding.
func (h *VisionHandler) AnalyzeImage(c *gin.Context) {
	var req api.VisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationProblem(validator.ParseError(err)))
		return
	}

	resp, err := h.service.AnalyzeImage(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
