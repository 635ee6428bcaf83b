package device

import (
	"context"

	"github.com/calder-ai/modelgate/internal/catalog"
	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/internal/runtime"
	"github.com/calder-ai/modelgate/pkg/api"
)

// On-device operations are never retried: a failed load or generation
// is not transient the way a dropped socket is, and replaying one
// doubles compute cost for the same outcome.

func (b *Backend) SendMessage(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	h, entry, d, err := b.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	gen := runtime.GenRequest{
		Prompt:      catalog.RenderPrompt(entry.Family, llm.ComposeSystemPrompt(req.Context), req.History, req.Message),
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
		Stop:        catalog.StopTokens(entry.Family),
	}

	res, err := h.Generate(ctx, gen, nil)
	if err != nil {
		cerr := classifyGenError(err)
		b.state.RecordFailure(cerr)
		return nil, cerr
	}

	return b.toResponse(d, req, res), nil
}

func (b *Backend) AnalyzeImage(ctx context.Context, req *api.VisionRequest) (*api.ChatResponse, error) {
	d := b.currentDescriptor()

	// Gate before touching the runtime or the state machine.
	if entry, ok := b.cat.Lookup(d.Model); !ok || !entry.Vision {
		err := llm.Errorf(llm.ErrorTypeVisionNotSupported, "model %q cannot accept images", d.Model)
		b.state.RecordFailure(err)
		return nil, err
	}

	h, entry, d, err := b.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	gen := runtime.GenRequest{
		Prompt:      catalog.RenderPrompt(entry.Family, llm.ComposeSystemPrompt(req.Context), nil, req.Prompt),
		Images:      [][]byte{req.Image.Data},
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
		Stop:        catalog.StopTokens(entry.Family),
	}

	res, err := h.Generate(ctx, gen, nil)
	if err != nil {
		cerr := classifyGenError(err)
		b.state.RecordFailure(cerr)
		return nil, cerr
	}

	return b.toResponse(d, &api.ChatRequest{Message: req.Prompt, Context: req.Context}, res), nil
}

func (b *Backend) StreamMessage(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	h, entry, d, err := b.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	gen := runtime.GenRequest{
		Prompt:      catalog.RenderPrompt(entry.Family, llm.ComposeSystemPrompt(req.Context), req.History, req.Message),
		Temperature: d.Temperature,
		MaxTokens:   d.MaxTokens,
		Stop:        catalog.StopTokens(entry.Family),
	}

	ch := make(chan api.StreamResult)
	go func() {
		defer close(ch)

		gone := false
		send := func(r api.StreamResult) {
			if gone {
				return
			}
			select {
			case ch <- r:
			case <-ctx.Done():
				// consumer left; ctx cancellation also aborts the
				// generation below
				gone = true
			}
		}

		res, err := h.Generate(ctx, gen, func(token string) {
			send(api.StreamResult{Chunk: &api.StreamChunk{Content: token, Model: d.Model}})
		})
		if err != nil {
			cerr := classifyGenError(err)
			b.state.RecordFailure(cerr)
			send(api.StreamResult{Err: cerr})
			return
		}

		final := &api.StreamChunk{Model: d.Model, Done: true, Tokens: b.tokenCount(req, res)}
		send(api.StreamResult{Chunk: final})
	}()
	return ch, nil
}

func (b *Backend) currentDescriptor() llm.Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desc
}

func (b *Backend) toResponse(d llm.Descriptor, req *api.ChatRequest, res *runtime.GenResult) *api.ChatResponse {
	resp := &api.ChatResponse{
		Content: res.Text,
		Model:   d.Model,
		Elapsed: res.Elapsed.Seconds(),
		Tokens:  b.tokenCount(req, res),
		Metadata: map[string]string{
			"model":         d.Model,
			"quantization":  d.Quantization,
			"generation_id": generationID(),
		},
	}
	return resp
}

// tokenCount prefers engine-reported counts and falls back to the
// catalog estimate; on-device responses always carry a count.
func (b *Backend) tokenCount(req *api.ChatRequest, res *runtime.GenResult) int {
	if res.PromptTokens > 0 || res.GeneratedTokens > 0 {
		return res.PromptTokens + res.GeneratedTokens
	}
	system := llm.ComposeSystemPrompt(req.Context)
	n := catalog.EstimateConversationTokens(system, req.History, req.Message) + catalog.EstimateTokens(res.Text)
	if n == 0 {
		n = 1
	}
	return n
}
