package runtime

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// LlamaServerConfig configures the llama-server engine.
type LlamaServerConfig struct {
	// Path to the llama-server binary.
	BinaryPath string

	// Listen address for spawned servers.
	Host string
	Port int

	// AttachURL points at an already-running server instead of
	// spawning one. Used by tests and external-runtime deployments.
	AttachURL string

	// How long to wait for /health after spawn.
	StartupTimeout time.Duration

	// Grace period between SIGTERM and SIGKILL on shutdown.
	ShutdownGrace time.Duration

	Threads   int
	GPULayers int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// LlamaServer implements Engine by running one llama-server subprocess
// per loaded model and talking to its completion endpoint.
type LlamaServer struct {
	cfg    LlamaServerConfig
	client *http.Client
	log    *zap.Logger
}

func NewLlamaServer(cfg LlamaServerConfig) *LlamaServer {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8791
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 120 * time.Second
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &LlamaServer{cfg: cfg, client: client, log: log}
}

func (s *LlamaServer) Load(ctx context.Context, spec LoadSpec) (Handle, error) {
	h := &llamaHandle{
		model:  spec.Model,
		client: s.client,
		grace:  s.cfg.ShutdownGrace,
		log:    s.log.With(zap.String("model", spec.Model)),
	}

	if s.cfg.AttachURL != "" {
		h.baseURL = strings.TrimRight(s.cfg.AttachURL, "/")
		if err := s.waitForReady(ctx, h.baseURL, s.cfg.StartupTimeout); err != nil {
			return nil, err
		}
		return h, nil
	}

	if spec.ModelPath == "" {
		return nil, fmt.Errorf("runtime: no model path for %s", spec.Model)
	}
	if _, err := os.Stat(spec.ModelPath); err != nil {
		return nil, fmt.Errorf("runtime: model file: %w", err)
	}

	args := []string{
		"-m", spec.ModelPath,
		"--host", s.cfg.Host,
		"--port", strconv.Itoa(s.cfg.Port),
	}
	if spec.ContextWindow > 0 {
		args = append(args, "-c", strconv.Itoa(spec.ContextWindow))
	}
	if spec.ProjectorPath != "" {
		args = append(args, "--mmproj", spec.ProjectorPath)
	}
	if s.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(s.cfg.Threads))
	}
	if s.cfg.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(s.cfg.GPULayers))
	}

	cmd := exec.Command(s.cfg.BinaryPath, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runtime: start %s: %w", s.cfg.BinaryPath, err)
	}

	h.cmd = cmd
	h.baseURL = fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
	s.log.Info("runtime server starting",
		zap.String("model", spec.Model),
		zap.String("addr", h.baseURL),
		zap.Int("pid", cmd.Process.Pid))

	if err := s.waitForReady(ctx, h.baseURL, s.cfg.StartupTimeout); err != nil {
		_ = h.terminate()
		return nil, err
	}
	return h, nil
}

// waitForReady polls /health until the server answers 200.
func (s *LlamaServer) waitForReady(ctx context.Context, baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := s.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("runtime: server not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type llamaHandle struct {
	model   string
	baseURL string
	client  *http.Client
	cmd     *exec.Cmd
	grace   time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	inflight int
	draining bool
	idle     chan struct{} // closed when inflight drops to zero while draining
}

func (h *llamaHandle) Model() string { return h.model }

func (h *llamaHandle) acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return ErrDraining
	}
	h.inflight++
	return nil
}

func (h *llamaHandle) release() {
	h.mu.Lock()
	h.inflight--
	if h.inflight == 0 && h.draining && h.idle != nil {
		close(h.idle)
		h.idle = nil
	}
	h.mu.Unlock()
}

// completionRequest is the llama-server /completion payload.
type completionRequest struct {
	Prompt      string      `json:"prompt"`
	NPredict    int         `json:"n_predict,omitempty"`
	Temperature float64     `json:"temperature"`
	Stop        []string    `json:"stop,omitempty"`
	Stream      bool        `json:"stream"`
	ImageData   []imageData `json:"image_data,omitempty"`
	CachePrompt bool        `json:"cache_prompt"`
}

type imageData struct {
	Data string `json:"data"` // base64
	ID   int    `json:"id"`
}

type completionResponse struct {
	Content         string `json:"content"`
	Stop            bool   `json:"stop"`
	TokensPredicted int    `json:"tokens_predicted"`
	TokensEvaluated int    `json:"tokens_evaluated"`
}

func (h *llamaHandle) Generate(ctx context.Context, req GenRequest, onToken func(string)) (*GenResult, error) {
	if err := h.acquire(); err != nil {
		return nil, err
	}
	defer h.release()

	payload := completionRequest{
		Prompt:      req.Prompt,
		NPredict:    req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Stream:      onToken != nil,
		CachePrompt: true,
	}
	for i, img := range req.Images {
		payload.ImageData = append(payload.ImageData, imageData{
			Data: base64.StdEncoding.EncodeToString(img),
			ID:   i + 1,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("runtime: completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(slurp)))
	}

	if onToken == nil {
		var cr completionResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			return nil, fmt.Errorf("runtime: decode completion: %w", err)
		}
		return &GenResult{
			Text:            cr.Content,
			PromptTokens:    cr.TokensEvaluated,
			GeneratedTokens: cr.TokensPredicted,
			Elapsed:         time.Since(start),
		}, nil
	}

	return h.consumeStream(resp.Body, onToken, start)
}

// consumeStream reads SSE "data: {...}" lines until the stop event.
func (h *llamaHandle) consumeStream(r io.Reader, onToken func(string), start time.Time) (*GenResult, error) {
	var full strings.Builder
	var final completionResponse

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		var cr completionResponse
		if err := json.Unmarshal([]byte(line[len("data: "):]), &cr); err != nil {
			h.log.Warn("runtime stream: bad event", zap.Error(err))
			continue
		}

		if cr.Content != "" {
			full.WriteString(cr.Content)
			onToken(cr.Content)
		}
		if cr.Stop {
			final = cr
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return &GenResult{
		Text:            full.String(),
		PromptTokens:    final.TokensEvaluated,
		GeneratedTokens: final.TokensPredicted,
		Elapsed:         time.Since(start),
	}, nil
}

// Close drains in-flight generations, then stops the subprocess with
// SIGTERM and escalates to SIGKILL after the grace period.
func (h *llamaHandle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.draining {
		h.mu.Unlock()
		return nil
	}
	h.draining = true
	var idle chan struct{}
	if h.inflight > 0 {
		idle = make(chan struct{})
		h.idle = idle
	}
	h.mu.Unlock()

	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			// give up waiting; the process teardown below cancels
			// whatever is still running
		}
	}

	return h.terminate()
}

func (h *llamaHandle) terminate() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return h.cmd.Process.Kill()
	}

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case <-done:
		h.log.Info("runtime server stopped")
		return nil
	case <-time.After(h.grace):
		h.log.Warn("runtime server did not exit, killing")
		_ = h.cmd.Process.Kill()
		<-done
		return nil
	}
}
