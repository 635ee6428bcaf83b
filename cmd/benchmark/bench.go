package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
)

const (
	mockPort = 9091
	appPort  = 8081
)

// Canned Ollama-protocol responses served by the mock upstream.
var (
	streamChunks = []string{
		`{"model":"bench-model","message":{"role":"assistant","content":"Bench"},"done":false}`,
		`{"model":"bench-model","message":{"role":"assistant","content":"mark"},"done":false}`,
		`{"model":"bench-model","message":{"role":"assistant","content":" response"},"done":false}`,
		`{"model":"bench-model","message":{"role":"assistant","content":""},"done":true,"eval_count":4,"prompt_eval_count":8,"total_duration":42000000}`,
	}
	unaryResp = []byte(`{"model":"bench-model","message":{"role":"assistant","content":"Hello"},"done":true,"eval_count":5,"prompt_eval_count":8,"total_duration":42000000}`)
	tagsResp  = []byte(`{"models":[{"name":"bench-model","modified_at":"2025-01-01T00:00:00Z","size":4661224676}]}`)
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	stream := flag.Bool("stream", false, "Use streaming requests")
	chaos := flag.Bool("chaos", false, "Simulate random client disconnections")
	flag.Parse()

	// start mock upstream
	go startMockServer()

	fmt.Println("Building application...")
	buildCmd := exec.Command("go", "build", "-o", "bin/modelgate", "./cmd/modelgate")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}
	binPath, err := filepath.Abs("bin/modelgate")
	if err != nil {
		log.Fatal(err)
	}

	// Run the gateway from a throwaway working directory so its
	// config.yaml and sqlite file never touch the repo.
	workDir, err := os.MkdirTemp("", "modelgate-bench")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(workDir)

	if err := os.WriteFile(filepath.Join(workDir, "config.yaml"), []byte(benchConfig), 0644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}

	fmt.Println("Starting application...")
	cmd := exec.Command(binPath)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "LOG_LEVEL=error", "NO_COLOR=1")

	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	defer func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}()

	waitForApp(fmt.Sprintf("http://localhost:%d/health", appPort))

	// Signal channel to stop background tasks (monitor, chaos monkey)
	done := make(chan struct{})

	go monitorResources(cmd.Process.Pid, done)

	mode := "Unary"
	if *stream {
		mode = "Streaming"
	}
	fmt.Printf("Running %s benchmark: %s duration, %d req/s\n", mode, *duration, *rate)

	body := `{"message": "Hello"}`
	if *stream {
		body = `{"message": "Hello", "stream": true}`
	}

	targeter := func(t *vegeta.Target) error {
		t.Method = "POST"
		t.URL = fmt.Sprintf("http://localhost:%d/v1/chat", appPort)
		t.Body = []byte(body)
		t.Header = http.Header{
			"Content-Type":      []string{"application/json"},
			"X-Benchmark-Start": []string{strconv.FormatInt(time.Now().UnixNano(), 10)},
		}
		return nil
	}

	if *chaos {
		fmt.Println("CHAOS MODE ENABLED: Starting Chaos Monkey sidecar...")
		chaosConcurrency := *rate / 10
		if chaosConcurrency < 5 {
			chaosConcurrency = 5
		}
		if chaosConcurrency > 50 {
			chaosConcurrency = 50
		}
		go startChaosMonkey(fmt.Sprintf("http://localhost:%d/v1/chat", appPort), chaosConcurrency, done)
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics

	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()

	close(done)

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Error Set (first 5 unique):")

		uniqueErrors := make(map[string]bool)
		count := 0
		for _, msg := range metrics.Errors {
			if !uniqueErrors[msg] && count < 5 {
				fmt.Println(msg)

				uniqueErrors[msg] = true
				count++
			}
		}
	}
}

func startChaosMonkey(url string, concurrency int, done chan struct{}) {
	fmt.Printf("Starting Chaos Monkey with %d concurrent disrupters (random disconnects 1-200ms)\n", concurrency)
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			client := &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 100,
					DisableKeepAlives:   false,
				},
			}

			payload := `{"message": "Chaos Request", "stream": true}`

			for {
				select {
				case <-done:
					return
				default:
					// Randomly disconnect between 1ms and 200ms
					timeout := time.Duration(rand.Intn(200)+1) * time.Millisecond

					ctx, cancel := context.WithTimeout(context.Background(), timeout)
					req, _ := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(payload))
					req.Header.Set("Content-Type", "application/json")

					resp, err := client.Do(req)
					if err == nil {
						resp.Body.Close()
					}
					cancel()

					time.Sleep(time.Duration(rand.Intn(50)) * time.Millisecond)
				}
			}
		}()
	}
}

// startMockServer speaks just enough of the Ollama protocol for the
// gateway to connect and complete chats against it.
func startMockServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(tagsResp)
	})

	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"version":"0.5.1"}`))
	})

	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		startStr := r.Header.Get("X-Benchmark-Start")
		if startStr != "" {
			start, _ := strconv.ParseInt(startStr, 10, 64)
			latency := time.Now().UnixNano() - start
			// Sample 1% of requests to avoid console spam
			if rand.Intn(100) == 0 {
				fmt.Printf("DEBUG: Gateway Overhead: %v\n", time.Duration(latency))
			}
		}

		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if val, ok := req["stream"].(bool); ok && val {
			w.Header().Set("Content-Type", "application/x-ndjson")
			flusher, _ := w.(http.Flusher)

			for _, chunk := range streamChunks {
				time.Sleep(50 * time.Millisecond)
				fmt.Fprintln(w, chunk)
				flusher.Flush()
			}
			return
		}

		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.Write(unaryResp)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	_ = http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux)
}

// monitorResources samples the gateway process with ps once a second.
func monitorResources(pid int, done chan struct{}) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	fmt.Println("\n--- Resource Usage (ps) ---")
	fmt.Printf("% -10s % -10s % -10s\n", "Time", "RSS(MB)", "CPU(%)")

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			out, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "rss=,%cpu=").Output()
			if err != nil {
				continue
			}
			fields := strings.Fields(strings.TrimSpace(string(out)))
			if len(fields) < 2 {
				continue
			}
			rssKB, _ := strconv.ParseFloat(fields[0], 64)
			cpu, _ := strconv.ParseFloat(fields[1], 64)

			fmt.Printf("% -10s % -10.2f % -10.2f\n",
				time.Now().Format("15:04:05"),
				rssKB/1024,
				cpu,
			)
		}
	}
}

func waitForApp(url string) {
	for i := 0; i < 20; i++ {
		resp, err := http.Get(url)
		if err == nil && resp.StatusCode == 200 {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	log.Fatal("App timed out")
}

var benchConfig = fmt.Sprintf(`
server:
  port: "%d"
  env: development
backend:
  kind: ollama
  server_url: "http://localhost:%d"
  model: bench-model
store:
  path: bench.db
rate_limit:
  requests_per_second: 100000
  burst: 100000
auth:
  enabled: false
stats:
  enabled: true
`, appPort, mockPort)
