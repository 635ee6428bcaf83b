package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calder-ai/modelgate/internal/gateway"
	"github.com/calder-ai/modelgate/internal/server/middleware"
	"github.com/calder-ai/modelgate/internal/server/validator"
	"github.com/calder-ai/modelgate/pkg/api"
)

type ChatHandler struct {
	service gateway.Service
}

func NewChatHandler(service gateway.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

// CreateChat handles POST /v1/chat. With stream=false it returns one
// completed response; with stream=true it switches to SSE and emits
// one chunk per event, terminated by [DONE].
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationProblem(validator.ParseError(err)))
		return
	}

	if req.Stream {
		h.handleStream(c, &req)
		return
	}

	resp, err := h.service.Chat(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(c *gin.Context, req *api.ChatRequest) {
	streamChan, err := h.service.StreamChat(c.Request.Context(), req)
	if err != nil {
		// the stream never opened, a plain problem document still works
		_ = c.Error(err)
		return
	}

	writeSSEHeaders(c)

	c.Stream(func(w io.Writer) bool {
		result, ok := <-streamChan
		if !ok {
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}

		if result.Err != nil {
			// the response status is already on the wire, so the error
			// rides inside the stream
			problem := middleware.ProblemFromError(result.Err)
			data, _ := json.Marshal(gin.H{"error": problem})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
			return false
		}

		data, merr := json.Marshal(result.Chunk)
		if merr != nil {
			return false
		}
		_, werr := fmt.Fprintf(w, "data: %s\n\n", data)
		return werr == nil
	})
}

func writeSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
}
