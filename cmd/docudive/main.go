// Docudive is a local AI backend that indexes documents for retrieval,
// brokers chat completions across LLM providers, and renders two-voice
// podcast episodes from documents.
//
// Usage:
//
//	docudive [flags]
//	docudive --config /path/to/docudive.yaml
//
// @title       DocuDive AI Core API
// @version     1.0
// @description Document retrieval, LLM chat, and podcast generation backend.
// @BasePath    /
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/docudive/docudive/docs"
	"github.com/docudive/docudive/internal/config"
	"github.com/docudive/docudive/internal/document"
	"github.com/docudive/docudive/internal/health"
	"github.com/docudive/docudive/internal/index"
	"github.com/docudive/docudive/internal/jobs"
	"github.com/docudive/docudive/internal/llm"
	"github.com/docudive/docudive/internal/llm/gemini"
	"github.com/docudive/docudive/internal/llm/groq"
	"github.com/docudive/docudive/internal/llm/ollama"
	"github.com/docudive/docudive/internal/podcast"
	"github.com/docudive/docudive/internal/server"
	"github.com/docudive/docudive/internal/tts/espeak"
	"github.com/docudive/docudive/internal/tts/gtrans"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/docudive.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("docudive %s\n", version)
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("docudive starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.Podcast.OutputDir, 0o755); err != nil {
		slog.Error("failed to create podcast output dir", "dir", cfg.Podcast.OutputDir, "error", err)
		os.Exit(1)
	}

	// Document parsing and the per-user retrieval index.
	parser := document.NewParser()
	embedder := index.NewHTTPEmbedder(cfg.Embedding.Endpoint, cfg.Embedding.Model)
	idx, err := index.NewStore(cfg.Index.Dir, embedder)
	if err != nil {
		slog.Error("failed to open index store", "dir", cfg.Index.Dir, "error", err)
		os.Exit(1)
	}
	idx.Preload(cfg.Index.DefaultUser)

	// LLM providers behind one router.
	router := llm.NewRouter(cfg.LLM.DefaultProvider,
		gemini.New(cfg.LLM.Gemini),
		groq.New(cfg.LLM.Groq),
		ollama.New(cfg.LLM.Ollama),
	)
	slog.Info("llm providers registered",
		"default", cfg.LLM.DefaultProvider,
		"providers", router.Providers())

	// The two podcast voices and the audio pipeline.
	scripts := podcast.NewScriptGenerator(router, cfg.LLM.DefaultProvider, cfg.LLM.DefaultModel, cfg.Podcast.MaxScriptChars)
	alex := espeak.New(cfg.TTS)
	brenda := gtrans.New(cfg.TTS)
	pipeline := podcast.New(cfg.Podcast, scripts, alex, brenda)

	// Task store for podcast jobs.
	var store jobs.Store
	switch cfg.Jobs.Store {
	case "", "memory":
		store = jobs.NewMemoryStore()
	case "redis":
		rs := jobs.NewRedisStore(cfg.Jobs.RedisAddr, time.Duration(cfg.Jobs.TaskTTLHours)*time.Hour)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rs.Ping(pingCtx)
		pingCancel()
		if err != nil {
			slog.Error("redis unreachable", "addr", cfg.Jobs.RedisAddr, "error", err)
			os.Exit(1)
		}
		store = rs
	default:
		slog.Error("unknown jobs store", "store", cfg.Jobs.Store)
		os.Exit(1)
	}

	manager := jobs.NewManager(store, parser, pipeline, cfg.Podcast.WorkerLimit)

	// Start health check server.
	healthServer := health.New(cfg.Server.HealthPort)
	go func() {
		if err := healthServer.ListenAndServe(ctx); err != nil {
			slog.Error("health server failed", "error", err)
		}
	}()

	// Start the API server.
	apiServer := server.New(cfg, parser, idx, embedder, router, manager)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Run(ctx); err != nil {
			slog.Error("api server failed", "error", err)
			cancel()
		}
	}()

	// Mark ready only once the API listener is actually bound.
	select {
	case <-apiServer.Ready():
		healthServer.SetReady(true)
		slog.Info("docudive ready",
			"api_port", cfg.Server.APIPort,
			"health_port", cfg.Server.HealthPort)
	case <-ctx.Done():
	}

	// Block until shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, draining...")

	wg.Wait()
	slog.Info("docudive stopped")
}
