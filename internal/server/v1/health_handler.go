package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	version   string
	startTime time.Time
}

func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// Health returns the health status and uptime of the gateway process.
// Backend connectivity is deliberately not part of liveness; the state
// endpoint reports that.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.version,
		"uptime":  time.Since(h.startTime).String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
