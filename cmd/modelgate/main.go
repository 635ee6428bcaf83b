package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/cache"
	"github.com/calder-ai/modelgate/internal/cli"
	"github.com/calder-ai/modelgate/internal/config"
	"github.com/calder-ai/modelgate/internal/gateway"
	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/internal/metrics"
	"github.com/calder-ai/modelgate/internal/platform/logger"
	"github.com/calder-ai/modelgate/internal/platform/otel"
	"github.com/calder-ai/modelgate/internal/runtime"
	"github.com/calder-ai/modelgate/internal/server"
	"github.com/calder-ai/modelgate/internal/store/sqlite"

	// Backend packages register themselves with the factory on import.
	_ "github.com/calder-ai/modelgate/internal/llm/device"
	_ "github.com/calder-ai/modelgate/internal/llm/ollama"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.CrossMark(), err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Initialize(logger.DefaultConfig())
	log := logger.Get()
	defer func() { _ = logger.Sync() }()

	banner()
	go CheckForUpdates(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := otel.InitTracer(ctx, "modelgate", cfg.Server.Env, log, os.Stdout)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	repo, err := sqlite.NewSQLiteStorage(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = repo.Close() }()

	cacheSvc := buildCache(cfg, log)
	defer func() { _ = cacheSvc.Close() }()

	engine := runtime.NewLlamaServer(runtime.LlamaServerConfig{
		BinaryPath: cfg.Device.BinaryPath,
		AttachURL:  cfg.Device.AttachURL,
		Host:       cfg.Device.Host,
		Port:       cfg.Device.Port,
		Threads:    cfg.Device.Threads,
		GPULayers:  cfg.Device.GPULayers,
		Logger:     log,
	})

	factory := llm.NewBackendFactory(llm.Deps{
		Logger:    log,
		Engine:    engine,
		Downloads: repo.Downloads(),
	})

	var recorder metrics.Recorder
	if cfg.Stats.Enabled {
		recorder = metrics.NewRecorder(log, repo)
	} else {
		recorder = metrics.NewNopRecorder()
	}
	recorder.Start(ctx)
	defer recorder.Close()

	svc := gateway.NewService(log, factory, recorder, repo)
	defer svc.Close()

	if err := gateway.Bootstrap(ctx, svc, cfg.BackendDescriptor(), log); err != nil {
		return err
	}

	srv := server.New(cfg, log, svc, cacheSvc, AppVersion)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Gateway listening",
			zap.String("addr", httpServer.Addr),
			zap.String("env", cfg.Server.Env),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildCache prefers redis when configured, falling back to the in-memory
// cache so a missing redis never blocks startup.
func buildCache(cfg *config.Config, log *zap.Logger) cache.CacheService {
	if cfg.Redis.Enabled {
		c, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			log.Info("Using redis cache", zap.String("addr", cfg.Redis.Addr))
			return c
		}
		log.Warn("Redis unavailable, falling back to in-memory cache", zap.Error(err))
	}
	return cache.NewMemoryCache()
}

func banner() {
	name := []rune("modelgate")
	var b strings.Builder
	for i, r := range name {
		progress := float64(i) / float64(len(name)-1)
		b.WriteString(cli.Gradient(string(r), cli.BrandBlue, cli.BrandPurple, progress))
	}
	fmt.Printf("\n  %s %s\n\n", b.String(), cli.Style(AppVersion, cli.Dim))
}
