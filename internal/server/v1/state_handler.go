package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/modelgate/internal/gateway"
)

type StateHandler struct {
	service gateway.Service
}

func NewStateHandler(service gateway.Service) *StateHandler {
	return &StateHandler{service: service}
}

// Get handles GET /v1/state. Reading state never talks to the backend.
func (h *StateHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.State())
}

// TestConnection handles POST /v1/connection/test. This is the one
// endpoint that deliberately drives the connection state machine.
func (h *StateHandler) TestConnection(c *gin.Context) {
	if err := h.service.TestConnection(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, h.service.State())
}
