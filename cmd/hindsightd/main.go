// cmd/hindsightd is the Hindsight memory daemon. It wires configuration,
// the storage backend, the LLM providers, and the background task queue
// into the memory engine, then runs until interrupted. Outer surfaces
// (HTTP, MCP) embed the engine package directly; the daemon exists to
// host the queue backend for asynchronous ingestion.
//
// Startup sequence:
//  1. Load configuration (defaults, optional YAML file, environment).
//  2. Open the configured store (sqlite or postgres) and apply schema.
//  3. Build the completion and embedding clients.
//  4. Create the engine and start the task backend.
//  5. Run until SIGINT / SIGTERM, then drain and shut down.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vanvuongngo/hindsight/internal/config"
	"github.com/vanvuongngo/hindsight/internal/engine"
	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/internal/storage/postgres"
	"github.com/vanvuongngo/hindsight/internal/storage/sqlite"
	"github.com/vanvuongngo/hindsight/internal/task"
)

func main() {
	log.SetPrefix("hindsightd: ")
	log.SetFlags(log.LstdFlags)

	configPath := flag.String("config", "", "path to YAML config file (overrides HINDSIGHT_CONFIG)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	providerCfg := llm.ProviderConfig{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		ScopeModels:       scopeModels(cfg),
		EmbedModel:        cfg.LLM.EmbedModel,
		Dimension:         cfg.LLM.EmbedDimension,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		EmbedCacheSize:    cfg.LLM.EmbedCacheSize,
	}
	gen, err := llm.NewTextGenerator(providerCfg)
	if err != nil {
		log.Fatalf("failed to create text generator: %v", err)
	}
	emb, err := llm.NewEmbedder(providerCfg)
	if err != nil {
		log.Fatalf("failed to create embedder: %v", err)
	}

	var backend task.Backend
	switch cfg.Task.Backend {
	case "inline":
		backend = task.NewInlineBackend()
	default:
		backend = task.NewQueueBackend(cfg.Task.BatchSize, cfg.Task.BatchInterval)
	}

	eng := engine.New(store, gen, emb, backend, engine.Config{
		TemporalWindow:         cfg.Engine.TemporalWindow,
		SemanticTopK:           cfg.Engine.SemanticTopK,
		SemanticThreshold:      cfg.Engine.SemanticThreshold,
		DedupThreshold:         cfg.Engine.DedupThreshold,
		GraphDecay:             cfg.Engine.GraphDecay,
		ConsolidationThreshold: cfg.Engine.ConsolidationThreshold,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize engine: %v", err)
	}
	log.Printf("ready (storage=%s llm=%s task=%s)", cfg.Storage.Backend, cfg.LLM.Provider, cfg.Task.Backend)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("received shutdown signal, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// openStore selects the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.NewStore(cfg.Storage.DSN)
	default:
		return sqlite.NewStore(cfg.Storage.Path)
	}
}

// scopeModels builds the per-scope model routing table from config.
func scopeModels(cfg *config.Config) map[llm.Scope]string {
	m := make(map[llm.Scope]string)
	if cfg.LLM.MemoryModel != "" {
		m[llm.ScopeMemory] = cfg.LLM.MemoryModel
	}
	if cfg.LLM.ReflectModel != "" {
		m[llm.ScopeReflect] = cfg.LLM.ReflectModel
	}
	return m
}
