package device_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/catalog"
	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/internal/llm/device"
	"github.com/calder-ai/modelgate/internal/runtime"
	"github.com/calder-ai/modelgate/internal/store"
	"github.com/calder-ai/modelgate/internal/store/model"
	"github.com/calder-ai/modelgate/pkg/api"
)

// fakeEngine scripts model loads and generations. Every lifecycle step
// lands in a single ordered event log so tests can assert sequencing,
// not just counts.
type fakeEngine struct {
	mu     sync.Mutex
	events []string
	specs  []runtime.LoadSpec
	gens   []runtime.GenRequest

	loadErr error
	genErr  error

	// pieces streams through onToken and concatenates into the result
	// text; when empty, text is returned whole.
	pieces    []string
	text      string
	promptTok int
	genTok    int
}

func (e *fakeEngine) Load(ctx context.Context, spec runtime.LoadSpec) (runtime.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "load "+spec.Model)
	e.specs = append(e.specs, spec)
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	return &fakeHandle{eng: e, model: spec.Model}, nil
}

func (e *fakeEngine) setGenErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.genErr = err
}

func (e *fakeEngine) eventLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.events...)
}

func (e *fakeEngine) loads() []runtime.LoadSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]runtime.LoadSpec(nil), e.specs...)
}

func (e *fakeEngine) generations() []runtime.GenRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]runtime.GenRequest(nil), e.gens...)
}

type fakeHandle struct {
	eng   *fakeEngine
	model string
}

func (h *fakeHandle) Model() string { return h.model }

func (h *fakeHandle) Generate(ctx context.Context, req runtime.GenRequest, onToken func(string)) (*runtime.GenResult, error) {
	h.eng.mu.Lock()
	h.eng.events = append(h.eng.events, "generate "+h.model)
	h.eng.gens = append(h.eng.gens, req)
	err := h.eng.genErr
	pieces := h.eng.pieces
	text := h.eng.text
	pt, gt := h.eng.promptTok, h.eng.genTok
	h.eng.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if len(pieces) > 0 {
		text = ""
		for _, p := range pieces {
			if onToken != nil {
				onToken(p)
			}
			text += p
		}
	}
	return &runtime.GenResult{
		Text:            text,
		PromptTokens:    pt,
		GeneratedTokens: gt,
		Elapsed:         80 * time.Millisecond,
	}, nil
}

func (h *fakeHandle) Close(ctx context.Context) error {
	h.eng.mu.Lock()
	defer h.eng.mu.Unlock()
	h.eng.events = append(h.eng.events, "close "+h.model)
	return nil
}

// fakeManifest is a map-backed download manifest.
type fakeManifest struct {
	mu      sync.Mutex
	entries map[string]model.Download
}

func newFakeManifest(downloads ...model.Download) *fakeManifest {
	f := &fakeManifest{entries: make(map[string]model.Download)}
	for _, d := range downloads {
		f.entries[d.Model+"|"+d.Quantization] = d
	}
	return f
}

func (f *fakeManifest) Get(ctx context.Context, modelID, quantization string) (*model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.entries[modelID+"|"+quantization]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (f *fakeManifest) Put(ctx context.Context, d *model.Download) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[d.Model+"|"+d.Quantization] = *d
	return nil
}

func (f *fakeManifest) List(ctx context.Context) ([]model.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Download, 0, len(f.entries))
	for _, d := range f.entries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Quantization < out[j].Quantization
	})
	return out, nil
}

func (f *fakeManifest) Delete(ctx context.Context, modelID, quantization string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, modelID+"|"+quantization)
	return nil
}

func download(modelID, quantization string) model.Download {
	return model.Download{
		ID:           uuid.NewString(),
		Model:        modelID,
		Quantization: quantization,
		Path:         "/models/" + modelID + "-" + strings.ToLower(quantization) + ".gguf",
		SizeBytes:    2 << 30,
		CreatedAt:    time.Now().UTC(),
	}
}

func newDeviceBackend(t *testing.T, modelID string) (*device.Backend, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{text: "All good.", promptTok: 9, genTok: 5}
	manifest := newFakeManifest(
		download("llama3.2", "Q4_K_M"),
		download("llava", "Q4_K_M"),
	)

	d := llm.Descriptor{
		Kind:    llm.KindDevice,
		Model:   modelID,
		Timeout: 5 * time.Second,
		Enabled: true,
	}.Normalized()

	built, err := device.New(d, llm.Deps{
		Logger:    zap.NewNop(),
		Catalog:   catalog.Builtin(),
		Engine:    eng,
		Downloads: manifest,
	})
	require.NoError(t, err)
	return built.(*device.Backend), eng
}

func connectedDeviceBackend(t *testing.T, modelID string) (*device.Backend, *fakeEngine) {
	t.Helper()
	b, eng := newDeviceBackend(t, modelID)
	require.NoError(t, b.TestConnection(context.Background()))
	require.True(t, b.IsConnected())
	return b, eng
}

func TestConnectionLoadsModelAndProbes(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")

	assert.Equal(t, llm.StatusConnected, b.Status())
	assert.Equal(t, []string{"load llama3.2", "generate llama3.2"}, eng.eventLog())

	loads := eng.loads()
	require.Len(t, loads, 1)
	assert.Equal(t, "llama3.2", loads[0].Model)
	assert.Equal(t, "/models/llama3.2-q4_k_m.gguf", loads[0].ModelPath)
	assert.Equal(t, 131072, loads[0].ContextWindow)

	// The probe is a minimal one-token generation.
	gens := eng.generations()
	require.Len(t, gens, 1)
	assert.Equal(t, 1, gens[0].MaxTokens)
	assert.Zero(t, gens[0].Temperature)
}

func TestConnectionReusesResidentHandle(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")

	require.NoError(t, b.TestConnection(context.Background()))

	assert.Len(t, eng.loads(), 1, "a connected backend must not reload")
	assert.Len(t, eng.generations(), 1, "no second probe against a resident handle")
}

func TestConnectionUnknownModel(t *testing.T) {
	b, eng := newDeviceBackend(t, "mystery-9b")

	err := b.TestConnection(context.Background())

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeModelNotFound))
	assert.Equal(t, llm.StatusError, b.Status())
	assert.Same(t, err, b.LastError())
	assert.Empty(t, eng.eventLog(), "catalog miss must not reach the engine")
}

func TestConnectionModelNotDownloaded(t *testing.T) {
	// qwen2.5 is in the catalog but absent from the manifest.
	b, eng := newDeviceBackend(t, "qwen2.5")

	err := b.TestConnection(context.Background())

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeModelNotDownloaded))
	assert.Equal(t, llm.StatusError, b.Status())
	assert.Empty(t, eng.eventLog())
}

func TestConnectionLoadFailure(t *testing.T) {
	b, eng := newDeviceBackend(t, "llama3.2")
	eng.loadErr = errors.New("mmap failed")

	err := b.TestConnection(context.Background())

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeModelLoadFailed))
	assert.ErrorContains(t, err, "mmap failed")
	assert.Equal(t, llm.StatusError, b.Status())
}

func TestConnectionProbeFailureReleasesHandle(t *testing.T) {
	b, eng := newDeviceBackend(t, "llama3.2")
	eng.setGenErr(errors.New("decode error"))

	err := b.TestConnection(context.Background())

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeServerUnavailable))
	assert.Equal(t, llm.StatusError, b.Status())
	assert.Equal(t, []string{"load llama3.2", "generate llama3.2", "close llama3.2"}, eng.eventLog(),
		"a handle that cannot generate must be released")

	// Recovery after the runtime heals loads fresh.
	eng.setGenErr(nil)
	require.NoError(t, b.TestConnection(context.Background()))
	assert.True(t, b.IsConnected())
	assert.Len(t, eng.loads(), 2)
}

func TestSendMessageLazilyConnects(t *testing.T) {
	b, eng := newDeviceBackend(t, "llama3.2")

	resp, err := b.SendMessage(context.Background(), &api.ChatRequest{Message: "What is 2+2?"})
	require.NoError(t, err)

	assert.True(t, b.IsConnected(), "chat against a cold backend must connect implicitly")
	assert.Equal(t, []string{"load llama3.2", "generate llama3.2", "generate llama3.2"}, eng.eventLog())

	assert.Equal(t, "All good.", resp.Content)
	assert.Equal(t, "llama3.2", resp.Model)
	assert.Equal(t, 14, resp.Tokens)
	assert.InDelta(t, 0.08, resp.Elapsed, 0.001)
	assert.Equal(t, "Q4_K_M", resp.Metadata["quantization"])
	assert.NotEmpty(t, resp.Metadata["generation_id"])

	// The chat generation carries the family-rendered prompt.
	gens := eng.generations()
	chat := gens[len(gens)-1]
	assert.Contains(t, chat.Prompt, "<|start_header_id|>user<|end_header_id|>")
	assert.Contains(t, chat.Prompt, "What is 2+2?")
	assert.Equal(t, []string{"<|eot_id|>", "<|end_of_text|>"}, chat.Stop)
}

func TestSendMessageGenerationFailureKeepsConnection(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")
	eng.setGenErr(errors.New("out of memory"))

	_, err := b.SendMessage(context.Background(), &api.ChatRequest{Message: "hi"})

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeServerUnavailable))
	// A failed generation is recorded but does not flip the state machine.
	assert.True(t, b.IsConnected())
	assert.Same(t, err, b.LastError())
}

func TestSendMessageDrainingHandle(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")
	eng.setGenErr(runtime.ErrDraining)

	_, err := b.SendMessage(context.Background(), &api.ChatRequest{Message: "hi"})

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeNotConnected))
}

func TestSendMessageTimeout(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")
	eng.setGenErr(fmt.Errorf("completion: %w", context.DeadlineExceeded))

	_, err := b.SendMessage(context.Background(), &api.ChatRequest{Message: "hi"})

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeTimeout))
}

func TestSendMessageEstimatesTokensWhenEngineReportsNone(t *testing.T) {
	b, eng := newDeviceBackend(t, "llama3.2")
	eng.promptTok, eng.genTok = 0, 0
	eng.text = "Hello there"

	resp, err := b.SendMessage(context.Background(), &api.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	want := catalog.EstimateConversationTokens(llm.ComposeSystemPrompt(""), nil, "hi") +
		catalog.EstimateTokens("Hello there")
	assert.Equal(t, want, resp.Tokens)
	assert.Positive(t, resp.Tokens)
}

func TestStreamMessageDeliversTokens(t *testing.T) {
	b, eng := newDeviceBackend(t, "llama3.2")
	eng.pieces = []string{"All ", "good."}

	ch, err := b.StreamMessage(context.Background(), &api.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	var contents []string
	var final *api.StreamChunk
	for result := range ch {
		require.NoError(t, result.Err)
		require.NotNil(t, result.Chunk)
		if result.Chunk.Done {
			final = result.Chunk
			continue
		}
		contents = append(contents, result.Chunk.Content)
	}

	assert.Equal(t, []string{"All ", "good."}, contents)
	require.NotNil(t, final, "stream must end with a done chunk")
	assert.Equal(t, "llama3.2", final.Model)
	assert.Equal(t, 14, final.Tokens)
}

func TestStreamMessageSurfacesGenerationError(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")
	eng.setGenErr(errors.New("decode error"))

	ch, err := b.StreamMessage(context.Background(), &api.ChatRequest{Message: "hi"})
	require.NoError(t, err)

	var results []api.StreamResult
	for result := range ch {
		results = append(results, result)
	}

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.True(t, llm.IsType(results[0].Err, llm.ErrorTypeServerUnavailable))
}

func TestAnalyzeImageGatesBeforeRuntime(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")
	before := eng.eventLog()

	_, err := b.AnalyzeImage(context.Background(), &api.VisionRequest{
		Image:  api.ImagePayload{MediaType: "image/png", Data: []byte{1, 2, 3}},
		Prompt: "what is this?",
	})

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeVisionNotSupported))
	assert.Equal(t, before, eng.eventLog(), "vision gate must fire before any generation")
	assert.True(t, b.IsConnected())
	assert.Same(t, err, b.LastError())
}

func TestAnalyzeImagePassesImageBytes(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llava")

	resp, err := b.AnalyzeImage(context.Background(), &api.VisionRequest{
		Image:  api.ImagePayload{MediaType: "image/png", Data: []byte{1, 2, 3}},
		Prompt: "describe",
	})
	require.NoError(t, err)
	assert.Equal(t, "All good.", resp.Content)

	gens := eng.generations()
	vision := gens[len(gens)-1]
	require.Len(t, vision.Images, 1)
	assert.Equal(t, []byte{1, 2, 3}, vision.Images[0])
	assert.Contains(t, vision.Prompt, "describe")
}

func TestUpdateConfigurationParameterOnly(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")
	before := eng.eventLog()

	next := llm.Descriptor{
		Kind:        llm.KindDevice,
		Model:       "llama3.2",
		Temperature: 0.2,
		MaxTokens:   64,
		Timeout:     5 * time.Second,
		Enabled:     true,
	}
	require.NoError(t, b.UpdateConfiguration(context.Background(), next))

	assert.True(t, b.IsConnected())
	assert.Equal(t, before, eng.eventLog(), "same model must not reload")

	// New sampling parameters reach the very next generation.
	_, err := b.SendMessage(context.Background(), &api.ChatRequest{Message: "hi"})
	require.NoError(t, err)
	gens := eng.generations()
	chat := gens[len(gens)-1]
	assert.Equal(t, 0.2, chat.Temperature)
	assert.Equal(t, 64, chat.MaxTokens)
}

func TestUpdateConfigurationModelChangeUnloadsFirst(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")

	next := llm.Descriptor{
		Kind:    llm.KindDevice,
		Model:   "llava",
		Timeout: 5 * time.Second,
		Enabled: true,
	}
	require.NoError(t, b.UpdateConfiguration(context.Background(), next))

	assert.True(t, b.IsConnected())
	assert.Equal(t, []string{
		"load llama3.2",
		"generate llama3.2",
		"close llama3.2",
		"load llava",
		"generate llava",
	}, eng.eventLog(), "the old model must be unloaded before the new one loads")
	assert.True(t, b.Capabilities().Vision)
}

func TestUpdateConfigurationNothingResidentStaysLazy(t *testing.T) {
	b, eng := newDeviceBackend(t, "llama3.2")

	next := llm.Descriptor{
		Kind:    llm.KindDevice,
		Model:   "llava",
		Timeout: 5 * time.Second,
		Enabled: true,
	}
	require.NoError(t, b.UpdateConfiguration(context.Background(), next))

	assert.Equal(t, llm.StatusDisconnected, b.Status())
	assert.Empty(t, eng.eventLog(), "with nothing resident the next operation loads lazily")
}

func TestUpdateConfigurationRejectsWrongKind(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")
	before := eng.eventLog()

	next := llm.Descriptor{
		Kind:      llm.KindOllama,
		ServerURL: "http://localhost:11434",
		Model:     "llama3.2",
		Timeout:   5 * time.Second,
		Enabled:   true,
	}
	err := b.UpdateConfiguration(context.Background(), next)

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeConfiguration))
	assert.True(t, b.IsConnected())
	assert.Equal(t, before, eng.eventLog())
}

func TestUpdateConfigurationValidatesDescriptor(t *testing.T) {
	b, _ := connectedDeviceBackend(t, "llama3.2")

	err := b.UpdateConfiguration(context.Background(), llm.Descriptor{Kind: llm.KindDevice})

	require.Error(t, err)
	assert.True(t, llm.IsType(err, llm.ErrorTypeConfiguration))
	assert.True(t, b.IsConnected())
}

func TestCapabilitiesBeforeConnect(t *testing.T) {
	b, _ := newDeviceBackend(t, "llava")

	caps := b.Capabilities()

	assert.True(t, caps.Vision, "vision flag comes from the catalog even before load")
	assert.Equal(t, 4096, caps.MaxContextTokens)
	assert.True(t, caps.Streaming)
	assert.Empty(t, caps.Models)
}

func TestCapabilitiesListsDownloadedModels(t *testing.T) {
	b, _ := connectedDeviceBackend(t, "llama3.2")

	caps := b.Capabilities()

	assert.Equal(t, []string{"llama3.2", "llava"}, caps.Models)
	assert.False(t, caps.Vision)
	assert.Equal(t, 131072, caps.MaxContextTokens)
}

func TestListModelsDeduplicatesQuantizations(t *testing.T) {
	eng := &fakeEngine{text: "ok"}
	manifest := newFakeManifest(
		download("llama3.2", "Q4_K_M"),
		download("llama3.2", "Q8_0"),
		download("llava", "Q4_K_M"),
	)
	built, err := device.New(llm.Descriptor{
		Kind:    llm.KindDevice,
		Model:   "llama3.2",
		Timeout: 5 * time.Second,
	}.Normalized(), llm.Deps{
		Logger:    zap.NewNop(),
		Catalog:   catalog.Builtin(),
		Engine:    eng,
		Downloads: manifest,
	})
	require.NoError(t, err)
	b := built.(*device.Backend)

	infos, err := b.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, "llama3.2", infos[0].ID)
	assert.Equal(t, "Llama 3.2", infos[0].DisplayName)
	assert.Equal(t, 131072, infos[0].ContextWindow)

	assert.Equal(t, "llava", infos[1].ID)
	assert.True(t, infos[1].Vision)
}

func TestCloseUnloadsResidentModel(t *testing.T) {
	b, eng := connectedDeviceBackend(t, "llama3.2")

	require.NoError(t, b.Close())

	assert.Equal(t, llm.StatusDisconnected, b.Status())
	events := eng.eventLog()
	assert.Equal(t, "close llama3.2", events[len(events)-1])

	// Closing again is a no-op.
	require.NoError(t, b.Close())
	assert.Equal(t, events, eng.eventLog())
}
