// Package runtime defines the port to an on-device model engine and
// ships the llama-server subprocess implementation. The device backend
// only sees Engine and Handle; anything that can load a model file and
// stream tokens can stand behind them.
package runtime

import (
	"context"
	"errors"
	"time"
)

// ErrDraining is returned by Generate once Close has begun on the
// handle. Callers must not retry against the same handle.
var ErrDraining = errors.New("runtime: handle is draining")

// LoadSpec describes the model file to make resident.
type LoadSpec struct {
	// Model is the public identifier, reported back on results.
	Model string

	// Path to the weights file on disk.
	ModelPath string

	// Optional path to a multimodal projector for vision models.
	ProjectorPath string

	ContextWindow int
}

// GenRequest is one generation against a loaded model.
type GenRequest struct {
	Prompt string

	// Raw image bytes for vision-capable models.
	Images [][]byte

	Temperature float64
	MaxTokens   int
	Stop        []string
}

type GenResult struct {
	Text string

	// Token counts reported by the engine.
	PromptTokens    int
	GeneratedTokens int

	Elapsed time.Duration
}

// Engine loads model files into resident handles. Implementations
// enforce nothing about handle cardinality; the backend above does.
type Engine interface {
	Load(ctx context.Context, spec LoadSpec) (Handle, error)
}

// Handle is one resident model instance.
//
// Close drains: once it begins, new Generate calls fail with
// ErrDraining and Close blocks until in-flight generations finish.
// Generations hold the caller's context, so an abandoned stream
// consumer cancelling its context lets the drain terminate.
type Handle interface {
	Model() string

	// Generate runs one completion. A non-nil onToken receives each
	// fragment as it is produced; the final text is returned either way.
	Generate(ctx context.Context, req GenRequest, onToken func(string)) (*GenResult, error)

	Close(ctx context.Context) error
}
