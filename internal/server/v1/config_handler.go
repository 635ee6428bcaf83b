package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/modelgate/internal/gateway"
	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/internal/server/validator"
	"github.com/calder-ai/modelgate/pkg/api"
)

type ConfigHandler struct {
	service gateway.Service
}

func NewConfigHandler(service gateway.Service) *ConfigHandler {
	return &ConfigHandler{service: service}
}

// Get returns the currently applied backend configuration.
//
// GET /v1/config
func (h *ConfigHandler) Get(c *gin.Context) {
	d, held := h.service.Descriptor()
	c.JSON(http.StatusOK, gin.H{
		"backend":         string(d.Kind),
		"server_url":      d.ServerURL,
		"model":           d.Model,
		"quantization":    d.Quantization,
		"temperature":     d.Temperature,
		"max_tokens":      d.MaxTokens,
		"timeout_seconds": int(d.Timeout.Seconds()),
		"max_retries":     d.MaxRetries,
		"enabled":         d.Enabled,
		"active":          held,
	})
}

// Update applies a new backend configuration.
//
// PUT /v1/config
func (h *ConfigHandler) Update(c *gin.Context) {
	var req api.ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationProblem(validator.ParseError(err)))
		return
	}

	if err := h.service.Reconfigure(c.Request.Context(), descriptorFrom(&req)); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, h.service.State())
}

// descriptorFrom translates the wire request into a descriptor,
// filling the user-facing defaults the pointer fields distinguish
// from deliberate zero values.
func descriptorFrom(req *api.ConfigRequest) llm.Descriptor {
	d := llm.Descriptor{
		Kind:         llm.Kind(req.Backend),
		ServerURL:    req.ServerURL,
		Model:        req.Model,
		Quantization: req.Quantization,
		MaxTokens:    req.MaxTokens,
		Temperature:  llm.DefaultTemperature,
		MaxRetries:   llm.DefaultMaxRetries,
		Enabled:      true,
	}
	if req.Temperature != nil {
		d.Temperature = *req.Temperature
	}
	if req.MaxRetries != nil {
		d.MaxRetries = *req.MaxRetries
	}
	if req.Enabled != nil {
		d.Enabled = *req.Enabled
	}
	if req.TimeoutSeconds > 0 {
		d.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	return d
}
