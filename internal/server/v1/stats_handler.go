package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/modelgate/internal/gateway"
	"github.com/calder-ai/modelgate/pkg/api"
)

type StatsHandler struct {
	service gateway.Service
}

func NewStatsHandler(service gateway.Service) *StatsHandler {
	return &StatsHandler{service: service}
}

// Get handles GET /v1/stats. Aggregates only; no message content is
// recorded, so none can leak here.
func (h *StatsHandler) Get(c *gin.Context) {
	daysStr := c.DefaultQuery("days", "7")
	days, err := strconv.Atoi(daysStr)
	if err != nil || days <= 0 {
		_ = c.Error(api.NewProblem(http.StatusBadRequest, "Bad Request", "Invalid 'days' parameter"))
		return
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	summary, err := h.service.Stats(c.Request.Context(), since)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, api.StatsSummary{
		Operations:   summary.Operations,
		Errors:       summary.Errors,
		TotalTokens:  summary.TotalTokens,
		AvgLatencyMS: summary.AvgLatencyMS,
	})
}
