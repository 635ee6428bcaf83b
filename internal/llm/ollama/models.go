package ollama

import (
	"context"
	"errors"
	"net/http"

	"github.com/calder-ai/modelgate/internal/httpclient"
	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/pkg/api"
)

// ListModels fetches /api/tags and enriches entries from the built-in
// catalog. Single shot, no retry; also refreshes the cached list the
// capability descriptor reads.
func (b *Backend) ListModels(ctx context.Context) ([]api.ModelInfo, error) {
	d := b.descriptor()

	var tags tagsResponse
	if err := httpclient.SendRequest(ctx, b.httpClient(), http.MethodGet, d.ServerURL+"/api/tags", nil, nil, &tags); err != nil {
		cerr := classifyChatError(err)
		b.state.RecordFailure(cerr)
		return nil, cerr
	}

	names := make([]string, 0, len(tags.Models))
	infos := make([]api.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)

		info := api.ModelInfo{ID: m.Name}
		if entry, ok := b.cat.Lookup(m.Name); ok {
			info.DisplayName = entry.DisplayName
			info.ContextWindow = entry.ContextWindow
			info.Vision = entry.Vision
		} else {
			info.Vision = b.cat.VisionCapable(m.Name)
		}
		infos = append(infos, info)
	}

	b.mu.Lock()
	b.models = names
	b.mu.Unlock()

	return infos, nil
}

// PullModel asks the server to download a model, forwarding NDJSON
// progress events to onProgress (which may be nil). Single shot; a
// pull is not idempotent enough to replay blindly.
func (b *Backend) PullModel(ctx context.Context, name string, onProgress func(api.PullProgress)) error {
	d := b.descriptor()

	payload := map[string]any{"name": name, "stream": true}
	err := httpclient.StreamRequest(ctx, b.httpClient(), http.MethodPost, d.ServerURL+"/api/pull", nil, payload, func(line string) error {
		var p api.PullProgress
		if err := unmarshalProgress(line, &p); err != nil {
			return err
		}
		if p.Status == "" {
			return nil
		}
		if onProgress != nil {
			onProgress(p)
		}
		return nil
	})
	if err != nil {
		var upstream *httpclient.UpstreamError
		if errors.As(err, &upstream) {
			if upstream.StatusCode == http.StatusNotFound {
				cerr := llm.Errorf(llm.ErrorTypeModelNotFound, "model %q not known to the server", name)
				b.state.RecordFailure(cerr)
				return cerr
			}
			cerr := classifyChatError(err)
			b.state.RecordFailure(cerr)
			return cerr
		}
		cerr := llm.ClassifyTransport(err)
		b.state.RecordFailure(cerr)
		return cerr
	}
	return nil
}
