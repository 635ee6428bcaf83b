package runtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calder-ai/modelgate/internal/runtime"
)

// fakeLlama imitates the llama-server HTTP surface.
type fakeLlama struct {
	mu        sync.Mutex
	healthy   bool
	lastReq   map[string]interface{}
	holdUntil chan struct{} // non-nil makes /completion block
}

func (f *fakeLlama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ok := f.healthy
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.lastReq = req
		hold := f.holdUntil
		f.mu.Unlock()

		if hold != nil {
			<-hold
		}

		if stream, _ := req["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, piece := range []string{"Hel", "lo"} {
				fmt.Fprintf(w, "data: %s\n\n", mustJSON(map[string]interface{}{"content": piece, "stop": false}))
				flusher.Flush()
			}
			fmt.Fprintf(w, "data: %s\n\n", mustJSON(map[string]interface{}{
				"content": "", "stop": true, "tokens_predicted": 2, "tokens_evaluated": 7,
			}))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": "Hello", "stop": true, "tokens_predicted": 5, "tokens_evaluated": 7,
		})
	})
	return mux
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func attachHandle(t *testing.T, f *fakeLlama) runtime.Handle {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	eng := runtime.NewLlamaServer(runtime.LlamaServerConfig{
		AttachURL:      srv.URL,
		StartupTimeout: 2 * time.Second,
	})
	h, err := eng.Load(context.Background(), runtime.LoadSpec{Model: "llama3.2"})
	require.NoError(t, err)
	return h
}

func TestLoadAttachesToRunningServer(t *testing.T) {
	f := &fakeLlama{healthy: true}
	h := attachHandle(t, f)
	defer h.Close(context.Background())

	assert.Equal(t, "llama3.2", h.Model())
}

func TestLoadGivesUpWhenServerNeverHealthy(t *testing.T) {
	f := &fakeLlama{healthy: false}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	eng := runtime.NewLlamaServer(runtime.LlamaServerConfig{
		AttachURL:      srv.URL,
		StartupTimeout: time.Millisecond,
	})
	_, err := eng.Load(context.Background(), runtime.LoadSpec{Model: "llama3.2"})
	assert.Error(t, err)
}

func TestGenerateUnary(t *testing.T) {
	f := &fakeLlama{healthy: true}
	h := attachHandle(t, f)
	defer h.Close(context.Background())

	res, err := h.Generate(context.Background(), runtime.GenRequest{
		Prompt:      "<|im_start|>user\nHi<|im_end|>\n<|im_start|>assistant\n",
		Temperature: 0.2,
		MaxTokens:   64,
		Stop:        []string{"<|im_end|>"},
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, 7, res.PromptTokens)
	assert.Equal(t, 5, res.GeneratedTokens)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, false, f.lastReq["stream"])
	assert.Contains(t, f.lastReq["prompt"], "Hi")
	assert.Equal(t, float64(64), f.lastReq["n_predict"])
}

func TestGenerateStreaming(t *testing.T) {
	f := &fakeLlama{healthy: true}
	h := attachHandle(t, f)
	defer h.Close(context.Background())

	var pieces []string
	res, err := h.Generate(context.Background(), runtime.GenRequest{Prompt: "p"}, func(tok string) {
		pieces = append(pieces, tok)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, pieces)
	assert.Equal(t, "Hello", res.Text)
	assert.Equal(t, 2, res.GeneratedTokens)
	assert.Equal(t, 7, res.PromptTokens)
}

func TestGenerateAfterCloseIsDraining(t *testing.T) {
	f := &fakeLlama{healthy: true}
	h := attachHandle(t, f)

	require.NoError(t, h.Close(context.Background()))

	_, err := h.Generate(context.Background(), runtime.GenRequest{Prompt: "p"}, nil)
	assert.ErrorIs(t, err, runtime.ErrDraining)
}

func TestCloseWaitsForInflightGeneration(t *testing.T) {
	f := &fakeLlama{healthy: true, holdUntil: make(chan struct{})}
	h := attachHandle(t, f)

	genDone := make(chan struct{})
	go func() {
		_, _ = h.Generate(context.Background(), runtime.GenRequest{Prompt: "p"}, nil)
		close(genDone)
	}()

	// Wait until the generation reached the server.
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.lastReq != nil
	}, 2*time.Second, 10*time.Millisecond)

	closeDone := make(chan struct{})
	go func() {
		_ = h.Close(context.Background())
		close(closeDone)
	}()

	select {
	case <-closeDone:
		t.Fatal("Close returned while a generation was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.holdUntil)
	<-genDone

	select {
	case <-closeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Close never returned after the generation finished")
	}
}

func TestGenerateSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	eng := runtime.NewLlamaServer(runtime.LlamaServerConfig{AttachURL: srv.URL})
	h, err := eng.Load(context.Background(), runtime.LoadSpec{Model: "m"})
	require.NoError(t, err)

	_, err = h.Generate(context.Background(), runtime.GenRequest{Prompt: "p"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
