// memento is the salient-memory MCP server. It speaks MCP over stdio and
// exposes the memory, context, anticipation, and behavioral tool surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/memento/internal/anticipate"
	"github.com/vthunder/memento/internal/behavioral"
	"github.com/vthunder/memento/internal/briefing"
	"github.com/vthunder/memento/internal/config"
	"github.com/vthunder/memento/internal/extract"
	"github.com/vthunder/memento/internal/frame"
	"github.com/vthunder/memento/internal/keylock"
	"github.com/vthunder/memento/internal/logging"
	"github.com/vthunder/memento/internal/pipeline"
	"github.com/vthunder/memento/internal/provider"
	"github.com/vthunder/memento/internal/recall"
	"github.com/vthunder/memento/internal/service"
	"github.com/vthunder/memento/internal/store"
	"github.com/vthunder/memento/internal/tools"
	"github.com/vthunder/memento/internal/vault"
	"github.com/vthunder/memento/internal/vector"
)

const version = "1.0.0"

func main() {
	// Load .env - try the executable's parent dir (repo root), then the
	// exe dir, then cwd
	envPaths := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		envPaths = append([]string{
			filepath.Join(filepath.Dir(exeDir), ".env"),
			filepath.Join(exeDir, ".env"),
		}, envPaths...)
	}
	for _, p := range envPaths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			break
		}
	}

	cfg, err := config.Load(os.Getenv("MEMENTO_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "data dir error: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "memento.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "store error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// Providers are optional: without an Ollama endpoint the pipeline runs
	// heuristic extraction and recall is metadata-only.
	var (
		llm      provider.LLMProvider
		embedder provider.Embedder
		vec      provider.VectorStore
		vecStore *vector.Store
	)
	if cfg.OllamaURL != "" {
		ollama := provider.NewOllama(cfg.OllamaURL, cfg.EmbedModel, cfg.GenModel, cfg.EmbedDim)
		llm = ollama
		embedder = ollama

		vecStore, err = vector.Open(context.Background(), filepath.Join(cfg.DataDir, "vectors.db"), cfg.EmbedDim)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vector store error: %v\n", err)
			os.Exit(1)
		}
		defer vecStore.Close()
		vec = vecStore
		logging.Info("main", "ollama providers enabled (url=%s embed=%s gen=%s)", cfg.OllamaURL, cfg.EmbedModel, cfg.GenModel)
	} else {
		logging.Info("main", "no ollama url configured, running heuristic-only")
	}

	llmGate := provider.NewGate("llm", cfg.LLMConcurrency, cfg.QueueDepth)
	embedGate := provider.NewGate("embed", cfg.EmbedConcurrency, cfg.QueueDepth)

	sealer, err := vault.NewSealer(cfg.VaultKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vault error: %v\n", err)
		os.Exit(1)
	}

	extractor := extract.New(llm, llmGate, cfg.LLMTimeout)
	locks := keylock.New()

	pipe := pipeline.New(st, vec, embedder, embedGate, extractor, sealer, locks, cfg)
	rec := recall.New(st, vec, embedder, embedGate, cfg)
	frames := frame.New(st, locks, cfg)
	briefings := briefing.New(st, cfg)
	anticipator := anticipate.New(st, rec, locks, cfg)
	behaviorist := behavioral.New(st, locks, cfg)

	// Every context write feeds pattern formation
	frames.SetObserver(anticipator.Observe)

	reconciler := store.NewReconciler(st, embedder, vec, store.ReconcilerConfig{
		BackoffInitial:  cfg.RetryBackoffInitial,
		BackoffCap:      cfg.RetryBackoffCap,
		EmbedTimeout:    cfg.EmbedderTimeout,
		HardDeleteAfter: time.Duration(cfg.HardDeleteAfterDays) * 24 * time.Hour,
	})
	reconciler.Start()
	defer reconciler.Stop()

	// Hourly pattern formation across all observed users
	formationDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				anticipator.RunFormationAll(context.Background())
			case <-formationDone:
				return
			}
		}
	}()
	defer close(formationDone)

	svc := service.New(&service.Service{
		Store:      st,
		Pipeline:   pipe,
		Recall:     rec,
		Frames:     frames,
		Briefings:  briefings,
		Anticipate: anticipator,
		Behavioral: behaviorist,
		LLMGate:    llmGate,
		EmbedGate:  embedGate,
		Locks:      locks,
		Cfg:        cfg,
	})

	s := server.NewMCPServer(
		"memento",
		version,
		server.WithToolCapabilities(true),
	)
	tools.RegisterAll(s, &tools.Dependencies{Svc: svc})

	// Stdio serving ends at stdin EOF; signals also shut us down cleanly
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("main", "received %s, shutting down", sig)
		reconciler.Stop()
		st.Close()
		if vecStore != nil {
			vecStore.Close()
		}
		os.Exit(0)
	}()

	logging.Info("main", "memento %s serving MCP over stdio (user=%s data=%s)", version, cfg.DefaultUser, cfg.DataDir)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}
