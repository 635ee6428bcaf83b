// Package ollama implements the remote backend speaking the native
// Ollama HTTP protocol: /api/tags for liveness and model discovery,
// /api/chat for completion and streaming, /api/pull for downloads.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	goversion "github.com/hashicorp/go-version"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/catalog"
	"github.com/calder-ai/modelgate/internal/httpclient"
	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/internal/retry"
	"github.com/calder-ai/modelgate/pkg/api"
)

func init() {
	llm.Register(llm.KindOllama, New)
}

// Servers older than this predate the chat endpoint shape we speak.
// Older servers still work for liveness; we only warn.
const minServerVersion = "0.1.14"

type Backend struct {
	mu             sync.RWMutex
	desc           llm.Descriptor
	client         *http.Client
	clientInjected bool
	exec           *retry.Executor
	models         []string // cached from the last tags call

	state *llm.StateTracker
	cat   *catalog.Catalog
	log   *zap.Logger
}

func New(d llm.Descriptor, deps llm.Deps) (llm.Backend, error) {
	b := &Backend{
		desc:  d,
		state: llm.NewStateTracker(),
		cat:   deps.Catalog,
		log:   deps.Logger.With(zap.String("backend", string(llm.KindOllama))),
	}
	if deps.HTTPClient != nil {
		b.client = deps.HTTPClient
		b.clientInjected = true
	} else {
		b.client = &http.Client{Timeout: d.Timeout}
	}
	b.exec = &retry.Executor{MaxRetries: d.MaxRetries, BaseDelay: 500 * time.Millisecond}
	return b, nil
}

func (b *Backend) Kind() llm.Kind { return llm.KindOllama }

func (b *Backend) IsConnected() bool { return b.state.IsConnected() }
func (b *Backend) Status() llm.Status { return b.state.Status() }
func (b *Backend) LastError() error  { return b.state.LastError() }

// State exposes the tracker for transition subscribers. Not part of
// the llm.Backend contract; the session discovers it by assertion.
func (b *Backend) State() *llm.StateTracker { return b.state }

func (b *Backend) descriptor() llm.Descriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.desc
}

func (b *Backend) httpClient() *http.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *Backend) executor() *retry.Executor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exec
}

type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		ModifiedAt string `json:"modified_at"`
		Size       int64  `json:"size"`
	} `json:"models"`
}

// TestConnection probes /api/tags. Any 2xx means the server is alive;
// the advertised model list is cached for capability reads.
func (b *Backend) TestConnection(ctx context.Context) error {
	d := b.descriptor()
	b.state.ToConnecting()

	var tags tagsResponse
	err := httpclient.SendRequest(ctx, b.httpClient(), http.MethodGet, d.ServerURL+"/api/tags", nil, nil, &tags)
	if err != nil {
		cerr := b.classifyLiveness(err)
		b.state.ToError(cerr)
		return cerr
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	b.mu.Lock()
	b.models = names
	b.mu.Unlock()

	b.checkServerVersion(ctx, d.ServerURL)

	b.state.ToConnected()
	b.log.Info("connected", zap.String("server", d.ServerURL), zap.Int("models", len(names)))
	return nil
}

// classifyLiveness maps a tags failure: upstream statuses become
// connection_failed carrying the code, transport errors keep their
// transport classification.
func (b *Backend) classifyLiveness(err error) error {
	var upstream *httpclient.UpstreamError
	if errors.As(err, &upstream) {
		return llm.StatusError(llm.ErrorTypeConnectionFailed, upstream.StatusCode, "server refused liveness check")
	}
	return llm.ClassifyTransport(err)
}

// checkServerVersion warns about servers older than we expect. Old
// servers without /api/version stay silent; this is best effort.
func (b *Backend) checkServerVersion(ctx context.Context, serverURL string) {
	vctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var got struct {
		Version string `json:"version"`
	}
	if err := httpclient.SendRequest(vctx, b.httpClient(), http.MethodGet, serverURL+"/api/version", nil, nil, &got); err != nil {
		return
	}

	current, err := goversion.NewVersion(got.Version)
	if err != nil {
		return
	}
	minimum := goversion.Must(goversion.NewVersion(minServerVersion))
	if current.LessThan(minimum) {
		b.log.Warn("server older than supported minimum",
			zap.String("server_version", got.Version),
			zap.String("minimum", minServerVersion))
	}
}

// Capabilities is a pure read against the cached model list.
func (b *Backend) Capabilities() api.Capabilities {
	b.mu.RLock()
	d := b.desc
	models := make([]string, len(b.models))
	copy(models, b.models)
	b.mu.RUnlock()

	return api.Capabilities{
		Models:           models,
		MaxContextTokens: b.cat.ContextWindow(d.Model, 4096),
		Streaming:        true,
		Vision:           b.cat.VisionCapable(d.Model),
		Documents:        false,
		Languages:        supportedLanguages,
	}
}

var supportedLanguages = []string{"en", "de", "fr", "es", "it", "pt", "ja", "zh"}

// UpdateConfiguration swaps the descriptor. A changed server URL or
// timeout rebuilds the client and drops back to disconnected; callers
// re-test. Model-only changes keep the connection.
func (b *Backend) UpdateConfiguration(_ context.Context, d llm.Descriptor) error {
	d = d.Normalized()
	if err := d.Validate(); err != nil {
		return err
	}
	if d.Kind != llm.KindOllama {
		return llm.Errorf(llm.ErrorTypeConfiguration, "descriptor kind %q does not match backend", d.Kind)
	}

	b.mu.Lock()
	prev := b.desc
	b.desc = d
	serverChanged := prev.ServerURL != d.ServerURL || prev.Timeout != d.Timeout
	if serverChanged {
		if !b.clientInjected {
			b.client = &http.Client{Timeout: d.Timeout}
		}
		b.models = nil
	}
	if prev.MaxRetries != d.MaxRetries {
		b.exec = &retry.Executor{MaxRetries: d.MaxRetries, BaseDelay: b.exec.BaseDelay}
	}
	b.mu.Unlock()

	if serverChanged {
		b.state.ToDisconnected()
	}
	return nil
}

func (b *Backend) Close() error {
	b.state.ToDisconnected()
	b.httpClient().CloseIdleConnections()
	return nil
}
