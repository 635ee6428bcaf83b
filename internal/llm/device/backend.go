// Package device implements the on-device backend. It keeps at most
// one model resident in the runtime engine, checks the download
// manifest before loading, and renders prompts with the catalog
// template for the model family.
package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/catalog"
	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/internal/runtime"
	"github.com/calder-ai/modelgate/internal/store"
	"github.com/calder-ai/modelgate/pkg/api"
)

func init() {
	llm.Register(llm.KindDevice, New)
}

// closeGrace bounds how long Close waits for in-flight generations.
const closeGrace = 30 * time.Second

type Backend struct {
	// mu serializes the load/unload lifecycle. Generations do not hold
	// it; the runtime handle's drain counter protects them against
	// unload instead.
	mu     sync.Mutex
	desc   llm.Descriptor
	handle runtime.Handle
	entry  catalog.Entry
	local  []string // downloaded model IDs cached at connect

	engine    runtime.Engine
	downloads store.DownloadRepository
	cat       *catalog.Catalog
	state     *llm.StateTracker
	log       *zap.Logger
}

func New(d llm.Descriptor, deps llm.Deps) (llm.Backend, error) {
	if deps.Engine == nil {
		return nil, llm.NewError(llm.ErrorTypeConfiguration, "on-device backend requires a runtime engine")
	}
	if deps.Downloads == nil {
		return nil, llm.NewError(llm.ErrorTypeConfiguration, "on-device backend requires a download manifest")
	}
	return &Backend{
		desc:      d,
		engine:    deps.Engine,
		downloads: deps.Downloads,
		cat:       deps.Catalog,
		state:     llm.NewStateTracker(),
		log:       deps.Logger.With(zap.String("backend", string(llm.KindDevice))),
	}, nil
}

func (b *Backend) Kind() llm.Kind { return llm.KindDevice }

func (b *Backend) IsConnected() bool  { return b.state.IsConnected() }
func (b *Backend) Status() llm.Status { return b.state.Status() }
func (b *Backend) LastError() error   { return b.state.LastError() }

// State exposes the tracker for transition subscribers.
func (b *Backend) State() *llm.StateTracker { return b.state }

// TestConnection verifies model presence, ensures a resident handle
// and runs a one-token probe generation.
func (b *Backend) TestConnection(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, _, err := b.connectLocked(ctx)
	return err
}

// connectLocked is the recovery path shared by TestConnection and the
// implicit reconnect inside chat operations. Caller holds b.mu.
func (b *Backend) connectLocked(ctx context.Context) (runtime.Handle, catalog.Entry, error) {
	if b.handle != nil && b.state.IsConnected() {
		return b.handle, b.entry, nil
	}

	b.state.ToConnecting()

	entry, ok := b.cat.Lookup(b.desc.Model)
	if !ok {
		err := llm.Errorf(llm.ErrorTypeModelNotFound, "model %q is not in the catalog", b.desc.Model)
		b.state.ToError(err)
		return nil, catalog.Entry{}, err
	}

	dl, err := b.downloads.Get(ctx, b.desc.Model, b.desc.Quantization)
	if errors.Is(err, store.ErrNotFound) {
		cerr := llm.Errorf(llm.ErrorTypeModelNotDownloaded, "model %q (%s) is not downloaded", b.desc.Model, b.desc.Quantization)
		b.state.ToError(cerr)
		return nil, catalog.Entry{}, cerr
	}
	if err != nil {
		cerr := llm.WrapError(llm.ErrorTypeUnknown, "download manifest unavailable", err)
		b.state.ToError(cerr)
		return nil, catalog.Entry{}, cerr
	}

	if b.handle == nil {
		handle, lerr := b.engine.Load(ctx, runtime.LoadSpec{
			Model:         b.desc.Model,
			ModelPath:     dl.Path,
			ContextWindow: entry.ContextWindow,
		})
		if lerr != nil {
			cerr := llm.WrapError(llm.ErrorTypeModelLoadFailed, "runtime could not load "+b.desc.Model, lerr)
			b.state.ToError(cerr)
			return nil, catalog.Entry{}, cerr
		}
		b.handle = handle
	}

	if err := b.probeLocked(ctx, entry); err != nil {
		return nil, catalog.Entry{}, err
	}

	b.entry = entry
	b.refreshLocalModels(ctx)
	b.state.ToConnected()
	b.log.Info("model resident",
		zap.String("model", b.desc.Model),
		zap.String("quantization", b.desc.Quantization))
	return b.handle, b.entry, nil
}

// probeLocked runs a one-token generation to prove the runtime can
// actually serve. A failed probe releases the handle; a runtime that
// cannot generate is not worth keeping resident.
func (b *Backend) probeLocked(ctx context.Context, entry catalog.Entry) error {
	_, err := b.handle.Generate(ctx, runtime.GenRequest{
		Prompt:      catalog.RenderPrompt(entry.Family, llm.ComposeSystemPrompt(""), nil, "Hi"),
		MaxTokens:   1,
		Temperature: 0,
		Stop:        catalog.StopTokens(entry.Family),
	}, nil)
	if err != nil {
		_ = b.handle.Close(ctx)
		b.handle = nil
		cerr := llm.WrapError(llm.ErrorTypeServerUnavailable, "runtime probe generation failed", err)
		b.state.ToError(cerr)
		return cerr
	}
	return nil
}

func (b *Backend) refreshLocalModels(ctx context.Context) {
	dls, err := b.downloads.List(ctx)
	if err != nil {
		b.log.Warn("could not list downloads", zap.Error(err))
		return
	}
	seen := make(map[string]struct{}, len(dls))
	names := make([]string, 0, len(dls))
	for _, dl := range dls {
		if _, dup := seen[dl.Model]; dup {
			continue
		}
		seen[dl.Model] = struct{}{}
		names = append(names, dl.Model)
	}
	b.local = names
}

// ensureReady returns a live handle, running the implicit recovery
// path when there is none.
func (b *Backend) ensureReady(ctx context.Context) (runtime.Handle, catalog.Entry, llm.Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, entry, err := b.connectLocked(ctx)
	return h, entry, b.desc, err
}

func (b *Backend) Capabilities() api.Capabilities {
	b.mu.Lock()
	d := b.desc
	entry, known := b.entry, b.entry.ID != ""
	models := make([]string, len(b.local))
	copy(models, b.local)
	b.mu.Unlock()

	if !known {
		entry, _ = b.cat.Lookup(d.Model)
	}

	ctxWindow := entry.ContextWindow
	if ctxWindow == 0 {
		ctxWindow = 4096
	}
	return api.Capabilities{
		Models:           models,
		MaxContextTokens: ctxWindow,
		Streaming:        true,
		Vision:           entry.Vision,
		Documents:        false,
		Languages:        []string{"en"},
	}
}

// ListModels reports the locally downloaded models enriched from the
// catalog. Unlike the remote listing this never touches a network.
func (b *Backend) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	dls, err := b.downloads.List(ctx)
	if err != nil {
		cerr := llm.WrapError(llm.ErrorTypeUnknown, "could not read download manifest", err)
		b.state.RecordFailure(cerr)
		return nil, cerr
	}

	seen := make(map[string]struct{}, len(dls))
	infos := make([]api.ModelInfo, 0, len(dls))
	for _, dl := range dls {
		if _, dup := seen[dl.Model]; dup {
			continue
		}
		seen[dl.Model] = struct{}{}

		info := api.ModelInfo{ID: dl.Model}
		if entry, ok := b.cat.Lookup(dl.Model); ok {
			info.DisplayName = entry.DisplayName
			info.ContextWindow = entry.ContextWindow
			info.Vision = entry.Vision
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// UpdateConfiguration applies a new descriptor. Same model and
// quantization is a parameter-only update; anything else unloads the
// resident model before loading the new one.
func (b *Backend) UpdateConfiguration(ctx context.Context, d llm.Descriptor) error {
	d = d.Normalized()
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Kind != llm.KindDevice {
		return llm.Errorf(llm.ErrorTypeConfiguration, "descriptor kind %q does not match backend", d.Kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.desc.SameModel(d) {
		b.desc = d
		return nil
	}

	b.desc = d
	if b.handle == nil {
		// nothing resident; next operation loads lazily
		b.state.ToDisconnected()
		return nil
	}

	b.state.ToConnecting()
	if err := b.handle.Close(ctx); err != nil {
		b.log.Warn("unload failed", zap.Error(err))
	}
	b.handle = nil

	_, _, err := b.connectLocked(ctx)
	return err
}

func (b *Backend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle != nil {
		if err := b.handle.Close(ctx); err != nil {
			b.log.Warn("unload on close failed", zap.Error(err))
		}
		b.handle = nil
	}
	b.state.ToDisconnected()
	return nil
}

// classifyGenError maps runtime generation failures.
func classifyGenError(err error) error {
	if errors.Is(err, runtime.ErrDraining) {
		return llm.NewError(llm.ErrorTypeNotConnected, "model is being unloaded")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.WrapError(llm.ErrorTypeTimeout, "generation timed out", err)
	}
	return llm.WrapError(llm.ErrorTypeServerUnavailable, "runtime generation failed", err)
}

func generationID() string { return uuid.NewString() }
