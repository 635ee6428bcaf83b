// Package gateway holds the session service: one configured backend at
// a time, swapped in place by reconfiguration, with every completed
// operation feeding the stats recorder.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/internal/metrics"
	"github.com/calder-ai/modelgate/internal/store"
	"github.com/calder-ai/modelgate/internal/store/model"
	"github.com/calder-ai/modelgate/pkg/api"
)

// Operation names as they appear in stat events.
const (
	opChat      = "chat"
	opStream    = "stream"
	opVision    = "vision"
	opConnect   = "connect"
	opConfigure = "configure"
	opPull      = "pull"
)

// Optional backend capabilities discovered by assertion. Model listing
// and pulling are not part of the core contract.
type modelLister interface {
	ListModels(ctx context.Context) ([]api.ModelInfo, error)
}

type modelPuller interface {
	PullModel(ctx context.Context, name string, onProgress func(api.PullProgress)) error
}

// Service is the gateway surface the HTTP layer talks to. It owns at
// most one live backend; Reconfigure swaps or retunes it, every other
// method delegates to it.
type Service interface {
	// Reconfigure applies a descriptor. Same-kind changes are handed to
	// the running backend; a kind change builds the replacement first,
	// so a failed build leaves the old backend serving. A disabled
	// descriptor releases the backend entirely.
	Reconfigure(ctx context.Context, d llm.Descriptor) error

	TestConnection(ctx context.Context) error
	Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error)
	StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error)
	AnalyzeImage(ctx context.Context, req *api.VisionRequest) (*api.ChatResponse, error)
	Capabilities() (api.Capabilities, error)

	// Models lists what the backend can serve: the server catalog for
	// remote backends, the local download manifest on-device.
	Models(ctx context.Context) ([]api.ModelInfo, error)
	// PullModel asks the backend to download a model server-side.
	// Backends without pull support reject the call.
	PullModel(ctx context.Context, name string, onProgress func(api.PullProgress)) error

	// State reads one consistent snapshot of the active backend.
	State() api.StateResponse
	// Descriptor returns the last applied configuration and whether a
	// backend is currently held.
	Descriptor() (llm.Descriptor, bool)

	Stats(ctx context.Context, since time.Time) (*model.StatsSummary, error)

	Close() error
}

type session struct {
	logger   *zap.Logger
	factory  *llm.BackendFactory
	recorder metrics.Recorder
	repo     store.Repository

	mu      sync.RWMutex
	desc    llm.Descriptor
	backend llm.Backend
}

func NewService(logger *zap.Logger, factory *llm.BackendFactory, recorder metrics.Recorder, repo store.Repository) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = metrics.NewNopRecorder()
	}
	return &session{
		logger:   logger,
		factory:  factory,
		recorder: recorder,
		repo:     repo,
	}
}

func (s *session) Reconfigure(ctx context.Context, d llm.Descriptor) error {
	d = d.Normalized()
	if d.Enabled {
		if err := d.Validate(); err != nil {
			return err
		}
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !d.Enabled {
		s.closeLocked()
		s.desc = d
		s.logger.Info("Gateway disabled, no backend held")
		return nil
	}

	if s.backend != nil && s.backend.Kind() == d.Kind {
		if err := s.backend.UpdateConfiguration(ctx, d); err != nil {
			s.record(d.Kind, d.Model, opConfigure, time.Since(start), 0, err)
			return err
		}
		s.desc = d
		s.record(d.Kind, d.Model, opConfigure, time.Since(start), 0, nil)
		return nil
	}

	// Kind change or first configuration: build the replacement before
	// touching the old backend, so a failed build leaves it serving.
	next, err := s.factory.Create(d)
	if err != nil {
		s.record(d.Kind, d.Model, opConfigure, time.Since(start), 0, err)
		return err
	}
	s.watchState(next)

	s.closeLocked()
	s.backend = next
	s.desc = d

	s.logger.Info("Backend configured",
		zap.String("kind", string(d.Kind)),
		zap.String("model", d.Model))
	s.record(d.Kind, d.Model, opConfigure, time.Since(start), 0, nil)

	return nil
}

func (s *session) TestConnection(ctx context.Context) error {
	b, desc, err := s.active()
	if err != nil {
		return err
	}

	start := time.Now()
	err = b.TestConnection(ctx)
	s.record(b.Kind(), desc.Model, opConnect, time.Since(start), 0, err)
	return err
}

func (s *session) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	b, desc, err := s.active()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := b.SendMessage(ctx, req)
	latency := time.Since(start)
	if err != nil {
		s.record(b.Kind(), desc.Model, opChat, latency, 0, err)
		return nil, err
	}

	s.record(b.Kind(), desc.Model, opChat, latency, resp.Tokens, nil)
	return resp, nil
}

func (s *session) AnalyzeImage(ctx context.Context, req *api.VisionRequest) (*api.ChatResponse, error) {
	b, desc, err := s.active()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := b.AnalyzeImage(ctx, req)
	latency := time.Since(start)
	if err != nil {
		s.record(b.Kind(), desc.Model, opVision, latency, 0, err)
		return nil, err
	}

	s.record(b.Kind(), desc.Model, opVision, latency, resp.Tokens, nil)
	return resp, nil
}

func (s *session) StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	b, desc, err := s.active()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	upstream, err := b.StreamMessage(ctx, req)
	if err != nil {
		s.record(b.Kind(), desc.Model, opStream, time.Since(start), 0, err)
		return nil, err
	}

	// Intercept the stream so the stat event carries the final token
	// count and any mid-flight failure.
	out := make(chan api.StreamResult)
	go func() {
		defer close(out)

		var tokens int
		var streamErr error

		for result := range upstream {
			if result.Chunk != nil && result.Chunk.Done {
				tokens = result.Chunk.Tokens
			}
			if result.Err != nil {
				streamErr = result.Err
			}
			select {
			case out <- result:
			case <-ctx.Done():
				// Consumer is gone; the producer exits on the same
				// cancellation. Account for what was seen so far.
				s.record(b.Kind(), desc.Model, opStream, time.Since(start), tokens, streamErr)
				return
			}
		}

		s.record(b.Kind(), desc.Model, opStream, time.Since(start), tokens, streamErr)
	}()

	return out, nil
}

func (s *session) Capabilities() (api.Capabilities, error) {
	b, _, err := s.active()
	if err != nil {
		return api.Capabilities{}, err
	}
	return b.Capabilities(), nil
}

func (s *session) Models(ctx context.Context) ([]api.ModelInfo, error) {
	b, _, err := s.active()
	if err != nil {
		return nil, err
	}

	lister, ok := b.(modelLister)
	if !ok {
		caps := b.Capabilities()
		infos := make([]api.ModelInfo, 0, len(caps.Models))
		for _, m := range caps.Models {
			infos = append(infos, api.ModelInfo{ID: m})
		}
		return infos, nil
	}
	return lister.ListModels(ctx)
}

func (s *session) PullModel(ctx context.Context, name string, onProgress func(api.PullProgress)) error {
	b, _, err := s.active()
	if err != nil {
		return err
	}

	puller, ok := b.(modelPuller)
	if !ok {
		return llm.Errorf(llm.ErrorTypeConfiguration, "backend %s cannot pull models", b.Kind())
	}

	start := time.Now()
	err = puller.PullModel(ctx, name, onProgress)
	s.record(b.Kind(), name, opPull, time.Since(start), 0, err)
	return err
}

func (s *session) State() api.StateResponse {
	s.mu.RLock()
	b, desc := s.backend, s.desc
	s.mu.RUnlock()

	if b == nil {
		return api.StateResponse{Status: string(llm.StatusDisconnected)}
	}

	snap := snapshotOf(b)
	resp := api.StateResponse{
		Status:    string(snap.Status),
		Connected: snap.Status == llm.StatusConnected,
		Backend:   string(b.Kind()),
		Model:     desc.Model,
	}
	if snap.LastError != nil {
		resp.LastError = snap.LastError.Error()
	}
	return resp
}

func (s *session) Descriptor() (llm.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc, s.backend != nil
}

func (s *session) Stats(ctx context.Context, since time.Time) (*model.StatsSummary, error) {
	return s.repo.Stats().Summary(ctx, since)
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// active returns the current backend or a configuration error when the
// session holds none.
func (s *session) active() (llm.Backend, llm.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil, s.desc, llm.NewError(llm.ErrorTypeConfiguration, "no backend configured")
	}
	return s.backend, s.desc, nil
}

func (s *session) closeLocked() {
	if s.backend == nil {
		return
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Warn("Backend close failed", zap.Error(err))
	}
	s.backend = nil
}

// watchState logs every connection-state transition of a backend that
// exposes its tracker.
func (s *session) watchState(b llm.Backend) {
	st, ok := b.(interface{ State() *llm.StateTracker })
	if !ok {
		return
	}
	kind := string(b.Kind())
	st.State().Subscribe(func(snap llm.Snapshot) {
		fields := []zap.Field{
			zap.String("backend", kind),
			zap.String("status", string(snap.Status)),
		}
		if snap.Cause != nil {
			fields = append(fields, zap.Error(snap.Cause))
		}
		s.logger.Info("Connection state changed", fields...)
	})
}

func (s *session) record(kind llm.Kind, modelID, op string, latency time.Duration, tokens int, opErr error) {
	ev := &model.StatEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Backend:   string(kind),
		Model:     modelID,
		Operation: op,
		LatencyMS: latency.Milliseconds(),
		Tokens:    tokens,
	}
	if opErr != nil {
		ev.ErrorType = string(llm.TypeOf(opErr))
	}
	s.recorder.Record(ev)
}

// snapshotOf reads one consistent state snapshot. Backends in this
// module all expose their tracker; the interface fallback reads the
// three accessors separately.
func snapshotOf(b llm.Backend) llm.Snapshot {
	if st, ok := b.(interface{ State() *llm.StateTracker }); ok {
		return st.State().Snapshot()
	}
	snap := llm.Snapshot{Status: b.Status(), LastError: b.LastError()}
	return snap
}
