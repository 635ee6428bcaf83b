package llm

import (
	"context"

	"github.com/calder-ai/modelgate/pkg/api"
)

// Kind selects which backend implementation serves a session.
type Kind string

const (
	// KindOllama talks to a remote Ollama-protocol server over HTTP.
	KindOllama Kind = "ollama"
	// KindDevice drives a model runtime on the local machine.
	KindDevice Kind = "device"
)

// Status is the connection state of a backend.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Backend is the polymorphic inference contract. Implementations own a
// connection state machine; only connectivity-class operations
// (TestConnection, UpdateConfiguration, Close, the on-device implicit
// recovery) move its status. Request-level failures record a last error
// without flipping status.
//
// Chat-class operations are safe to call concurrently with each other.
// UpdateConfiguration and Close are serialized against them by the
// gateway session.
type Backend interface {
	Kind() Kind

	// TestConnection verifies the backend can serve requests and moves
	// the state machine to connected or error accordingly.
	TestConnection(ctx context.Context) error

	SendMessage(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)

	// StreamMessage returns a lazy channel of fragments. The channel is
	// closed after the terminal chunk (Done set) or a single error
	// element. Cancelling ctx tears the stream down promptly.
	StreamMessage(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error)

	AnalyzeImage(ctx context.Context, req *api.VisionRequest) (*api.ChatResponse, error)

	// Capabilities is a pure read. It never touches the network and
	// never changes connection state.
	Capabilities() api.Capabilities

	// UpdateConfiguration applies a new descriptor in place. Unchanged
	// descriptors are a no-op.
	UpdateConfiguration(ctx context.Context, d Descriptor) error

	IsConnected() bool
	Status() Status
	LastError() error

	Close() error
}
