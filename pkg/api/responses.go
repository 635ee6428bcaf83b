package api

// ChatResponse is the completed result of a chat or vision request.
type ChatResponse struct {
	Content string `json:"content"`
	Model   string `json:"model"`

	// Wall-clock generation time in seconds.
	Elapsed float64 `json:"elapsed_seconds"`

	// Prompt plus generated tokens. Zero means the backend did not
	// report counts; the on-device backend always estimates.
	Tokens int `json:"tokens,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// StreamChunk is one fragment of a streaming response. The terminal
// chunk has Done set and carries the final token count.
type StreamChunk struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	Done    bool   `json:"done"`
	Tokens  int    `json:"tokens,omitempty"`
}

// StreamResult is a channel element: exactly one of Chunk or Err is set.
type StreamResult struct {
	Chunk *StreamChunk
	Err   error
}

// Capabilities describes what the active backend can do. Pure data.
type Capabilities struct {
	Models           []string `json:"models"`
	MaxContextTokens int      `json:"max_context_tokens"`
	Streaming        bool     `json:"streaming"`
	Vision           bool     `json:"vision"`
	Documents        bool     `json:"documents"`
	Languages        []string `json:"languages"`
}

// StateResponse is the wire form of a connection-state snapshot.
type StateResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Backend   string `json:"backend,omitempty"`
	Model     string `json:"model,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// ModelInfo is one entry of the model listing.
type ModelInfo struct {
	ID            string `json:"id"`
	DisplayName   string `json:"display_name,omitempty"`
	ContextWindow int    `json:"context_window,omitempty"`
	Vision        bool   `json:"vision,omitempty"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// PullProgress is one progress event of a server-side model download.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// StatsSummary aggregates recorded generation stats. Content is never
// recorded, so none can be returned here.
type StatsSummary struct {
	Operations   int64   `json:"operations"`
	Errors       int64   `json:"errors"`
	TotalTokens  int64   `json:"total_tokens"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}
