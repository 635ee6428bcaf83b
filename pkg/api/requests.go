package api

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn of conversation history, oldest first.
// Callers never supply a system message; backends prepend their own.
type Message struct {
	Role    Role   `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content" binding:"required"`
}

type ChatRequest struct {
	// The user message for this turn.
	Message string `json:"message" binding:"required"`

	// Pre-rendered background data injected into the system prompt
	// verbatim. Empty means no background section.
	Context string `json:"context,omitempty"`

	// Prior turns, oldest to newest. May be empty.
	History []Message `json:"history,omitempty" binding:"omitempty,dive"`

	// Enable streaming, defaults to `false` (empty)
	Stream bool `json:"stream,omitempty"`
}

type VisionRequest struct {
	Image  ImagePayload `json:"image" binding:"required"`
	Prompt string       `json:"prompt" binding:"required"`

	// Same contract as ChatRequest.Context.
	Context string `json:"context,omitempty"`
}

// PullRequest asks a remote backend to download a model server-side.
type PullRequest struct {
	Model string `json:"model" binding:"required"`
}

// ConfigRequest is the wire form of a configuration descriptor update.
type ConfigRequest struct {
	Backend   string `json:"backend" binding:"required,oneof=ollama device"`
	ServerURL string `json:"server_url,omitempty"`
	Model     string `json:"model" binding:"required"`

	// Device-only quantization label, e.g. "Q4_K_M".
	Quantization string `json:"quantization,omitempty"`

	Temperature    *float64 `json:"temperature,omitempty" binding:"omitempty,gte=0,lte=2"`
	MaxTokens      int      `json:"max_tokens,omitempty" binding:"omitempty,gt=0"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty" binding:"omitempty,gt=0"`
	MaxRetries     *int     `json:"max_retries,omitempty" binding:"omitempty,gte=0"`

	// Nil means unchanged from the default (enabled).
	Enabled *bool `json:"enabled,omitempty"`
}
