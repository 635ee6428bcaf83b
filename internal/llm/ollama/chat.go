package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/httpclient"
	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/internal/retry"
	"github.com/calder-ai/modelgate/pkg/api"
)

// Ollama wire structures.
type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64, no data-URI prefix
}

type chatOptions struct {
	Temperature float64  `json:"temperature"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Model     string      `json:"model"`
	CreatedAt time.Time   `json:"created_at"`
	Message   chatMessage `json:"message"`
	Done      bool        `json:"done"`

	// Nanoseconds.
	TotalDuration int64 `json:"total_duration"`
	LoadDuration  int64 `json:"load_duration"`

	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (b *Backend) SendMessage(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	d := b.descriptor()
	if err := b.requireConnected(); err != nil {
		return nil, err
	}

	wire := buildChatRequest(d, req.Context, req.History, req.Message, nil)

	resp, err := retry.DoValue(ctx, b.executor(), func() (*api.ChatResponse, error) {
		return b.chatOnce(ctx, d, wire)
	})
	if err != nil {
		b.state.RecordFailure(err)
		return nil, err
	}
	return resp, nil
}

func (b *Backend) AnalyzeImage(ctx context.Context, req *api.VisionRequest) (*api.ChatResponse, error) {
	d := b.descriptor()

	// Gate before touching state or network.
	if !b.cat.VisionCapable(d.Model) {
		err := llm.Errorf(llm.ErrorTypeVisionNotSupported, "model %q cannot accept images", d.Model)
		b.state.RecordFailure(err)
		return nil, err
	}
	if err := b.requireConnected(); err != nil {
		return nil, err
	}

	images := []string{base64.StdEncoding.EncodeToString(req.Image.Data)}
	wire := buildChatRequest(d, req.Context, nil, req.Prompt, images)

	resp, err := retry.DoValue(ctx, b.executor(), func() (*api.ChatResponse, error) {
		return b.chatOnce(ctx, d, wire)
	})
	if err != nil {
		b.state.RecordFailure(err)
		return nil, err
	}
	return resp, nil
}

func (b *Backend) StreamMessage(ctx context.Context, req *api.ChatRequest) (<-chan api.StreamResult, error) {
	d := b.descriptor()
	if err := b.requireConnected(); err != nil {
		return nil, err
	}

	wire := buildChatRequest(d, req.Context, req.History, req.Message, nil)
	wire.Stream = true
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, llm.WrapError(llm.ErrorTypeUnknown, "encode request", err)
	}

	// Retries cover request issuance only. Once the first byte of the
	// stream arrives, failures surface on the channel.
	resp, err := retry.DoValue(ctx, b.executor(), func() (*http.Response, error) {
		return b.openStream(ctx, d, body)
	})
	if err != nil {
		b.state.RecordFailure(err)
		return nil, err
	}

	ch := make(chan api.StreamResult)
	go b.consumeStream(ctx, resp, d, ch)
	return ch, nil
}

func (b *Backend) requireConnected() error {
	if b.state.IsConnected() {
		return nil
	}
	err := llm.NewError(llm.ErrorTypeNotConnected, "backend is not connected; run a connection test first")
	b.state.RecordFailure(err)
	return err
}

func buildChatRequest(d llm.Descriptor, background string, history []api.Message, userMsg string, images []string) chatRequest {
	messages := make([]chatMessage, 0, len(history)+2)
	messages = append(messages, chatMessage{
		Role:    string(api.RoleSystem),
		Content: llm.ComposeSystemPrompt(background),
	})
	for _, m := range history {
		messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, chatMessage{
		Role:    string(api.RoleUser),
		Content: userMsg,
		Images:  images,
	})

	return chatRequest{
		Model:    d.Model,
		Messages: messages,
		Options: &chatOptions{
			Temperature: d.Temperature,
			NumPredict:  d.MaxTokens,
		},
	}
}

func (b *Backend) chatOnce(ctx context.Context, d llm.Descriptor, wire chatRequest) (*api.ChatResponse, error) {
	started := time.Now()

	var out chatResponse
	err := httpclient.SendRequest(ctx, b.httpClient(), http.MethodPost, d.ServerURL+"/api/chat", nil, wire, &out)
	if err != nil {
		return nil, classifyChatError(err)
	}
	if out.Message.Role == "" && out.Message.Content == "" && !out.Done {
		return nil, llm.NewError(llm.ErrorTypeInvalidResponse, "chat response missing message")
	}

	return b.toResponse(d, &out, started), nil
}

func (b *Backend) toResponse(d llm.Descriptor, out *chatResponse, started time.Time) *api.ChatResponse {
	model := out.Model
	if model == "" {
		model = d.Model
	}

	elapsed := time.Since(started).Seconds()
	if out.TotalDuration > 0 {
		elapsed = time.Duration(out.TotalDuration).Seconds()
	}

	resp := &api.ChatResponse{
		Content: out.Message.Content,
		Model:   model,
		Elapsed: elapsed,
		Metadata: map[string]string{
			"model":         model,
			"generation_id": uuid.NewString(),
		},
	}
	if out.PromptEvalCount > 0 || out.EvalCount > 0 {
		resp.Tokens = out.PromptEvalCount + out.EvalCount
	}
	if out.LoadDuration > 0 {
		resp.Metadata["load_duration_ms"] = time.Duration(out.LoadDuration).Truncate(time.Millisecond).String()
	}
	return resp
}

// classifyChatError maps per-request failures. These never flip the
// connection state; only liveness checks do.
func classifyChatError(err error) error {
	var upstream *httpclient.UpstreamError
	if !errors.As(err, &upstream) {
		if decodeFailed(err) {
			return llm.WrapError(llm.ErrorTypeInvalidResponse, "malformed chat response", err)
		}
		return llm.ClassifyTransport(err)
	}

	switch upstream.StatusCode {
	case http.StatusTooManyRequests:
		return llm.StatusError(llm.ErrorTypeRateLimited, upstream.StatusCode, "server is rate limiting requests")
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return llm.StatusError(llm.ErrorTypeServerUnavailable, upstream.StatusCode, "server temporarily unavailable")
	default:
		return llm.StatusError(llm.ErrorTypeRequestFailed, upstream.StatusCode, upstreamDetail(upstream))
	}
}

func upstreamDetail(u *httpclient.UpstreamError) string {
	if len(u.Body) == 0 {
		return "chat request failed"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(u.Body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return "chat request failed"
}

func decodeFailed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func (b *Backend) openStream(ctx context.Context, d llm.Descriptor, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.ServerURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, llm.WrapError(llm.ErrorTypeUnknown, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return nil, llm.ClassifyTransport(err)
	}
	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, classifyChatError(&httpclient.UpstreamError{
			StatusCode: resp.StatusCode,
			Body:       slurp,
			URL:        req.URL.String(),
		})
	}
	return resp, nil
}

// consumeStream decodes NDJSON chunks onto ch until the done line,
// an error, or consumer cancellation. It owns resp.Body and ch.
func (b *Backend) consumeStream(ctx context.Context, resp *http.Response, d llm.Descriptor, ch chan<- api.StreamResult) {
	defer close(ch)
	defer resp.Body.Close()

	send := func(r api.StreamResult) bool {
		select {
		case ch <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var out chatResponse
		if err := json.Unmarshal(line, &out); err != nil {
			werr := llm.WrapError(llm.ErrorTypeInvalidResponse, "malformed stream chunk", err)
			b.state.RecordFailure(werr)
			send(api.StreamResult{Err: werr})
			return
		}

		model := out.Model
		if model == "" {
			model = d.Model
		}
		chunk := &api.StreamChunk{
			Content: out.Message.Content,
			Model:   model,
			Done:    out.Done,
		}
		if out.Done {
			chunk.Tokens = out.PromptEvalCount + out.EvalCount
		}

		if !send(api.StreamResult{Chunk: chunk}) {
			b.log.Debug("stream consumer gone", zap.String("model", model))
			return
		}
		if out.Done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		cerr := llm.ClassifyTransport(err)
		b.state.RecordFailure(cerr)
		send(api.StreamResult{Err: cerr})
	}
}
