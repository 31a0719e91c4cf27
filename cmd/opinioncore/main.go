// File path: cmd/opinioncore/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/skyreach/opinioncore/internal/api"
	"github.com/skyreach/opinioncore/internal/catalog"
	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/embedding"
	"github.com/skyreach/opinioncore/internal/ingest"
	"github.com/skyreach/opinioncore/internal/llm"
	"github.com/skyreach/opinioncore/internal/mapping"
	"github.com/skyreach/opinioncore/internal/prompt"
	"github.com/skyreach/opinioncore/internal/retrieval"
	"github.com/skyreach/opinioncore/internal/vector"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("opinioncore: .env file not loaded", "error", err)
	} else {
		logger.Info("opinioncore: environment loaded from .env")
	}

	addr := flag.String("addr", ":8082", "listen address")
	dataDir := flag.String("data", filepath.Join("data", "mapping"), "mapping store root directory")
	promptDir := flag.String("prompts", filepath.Join("data", "prompts"), "prompt template root directory")
	catalogPath := flag.String("catalog", filepath.Join("data", "catalog.db"), "SQLite catalog path (empty disables the catalog)")
	qps := flag.Int("qps", 0, "LLM calls per one-second window (0 uses LLM_QPS or the default)")
	maxConcurrent := flag.Int("max-concurrent", 0, "concurrent embedding requests (0 uses EMBED_MAX_CONCURRENT or the default)")
	flag.Parse()

	logger.Info("opinioncore: startup initiated", "addr", *addr, "data", *dataDir, "prompts", *promptDir)

	mapStore, err := mapping.NewStore(*dataDir)
	if err != nil {
		logger.Error("opinioncore: mapping store init failed", "error", err)
		fmt.Println("mapping store error:", err)
		os.Exit(1)
	}

	vectors, err := vector.NewFromEnv(ctx)
	if err != nil {
		logger.Error("opinioncore: vector store init failed", "error", err)
		fmt.Println("vector store error:", err)
		os.Exit(1)
	}
	if vectors.Available() {
		logger.Info("opinioncore: chromadb available")
	} else {
		logger.Warn("opinioncore: chromadb unreachable, will retry on use")
	}

	var cat *catalog.Store
	if trimmed := strings.TrimSpace(*catalogPath); trimmed != "" {
		if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
			logger.Warn("opinioncore: catalog directory unavailable", "error", err)
		} else if cat, err = catalog.Open(trimmed); err != nil {
			logger.Warn("opinioncore: catalog disabled", "error", err)
			cat = nil
		} else {
			defer cat.Close()
		}
	}

	provider := llm.NewProvider()
	logger.Info("opinioncore: llm provider ready", "provider", provider.Name())

	llmCfg, err := llm.LoadConfig()
	if err != nil {
		logger.Error("opinioncore: llm config load failed", "error", err)
		fmt.Println("llm config error:", err)
		os.Exit(1)
	}
	if *qps > 0 {
		llmCfg.QPS = *qps
	}
	registry := prompt.NewRegistry(*promptDir)
	client := llm.NewClient(provider, registry, llmCfg)

	embedCfg, err := embedding.LoadConfig()
	if err != nil {
		logger.Error("opinioncore: embedding config load failed", "error", err)
		fmt.Println("embedding config error:", err)
		os.Exit(1)
	}
	if *maxConcurrent > 0 {
		embedCfg.MaxConcurrent = *maxConcurrent
	}
	embedder := embedding.NewGenerator(provider, embedCfg)

	pipeline := ingest.NewPipeline(mapStore, vectors, cat, client, embedder)
	engine := retrieval.NewEngine(vectors, mapStore, client, embedder)

	server, err := api.NewServer(pipeline, engine, cat, mapStore, vectors, provider)
	if err != nil {
		logger.Error("opinioncore: server construction failed", "error", err)
		fmt.Println("server error:", err)
		os.Exit(1)
	}

	reachable := *addr
	if strings.HasPrefix(reachable, ":") {
		reachable = "localhost" + reachable
	}
	logger.Info("opinioncore: server listening", "addr", *addr, "health", fmt.Sprintf("http://%s/healthz", reachable))
	fmt.Printf("Serving on %s\n", *addr)
	if err := http.ListenAndServe(*addr, server); err != nil {
		logger.Error("opinioncore: server stopped", "error", err)
		fmt.Println("server stopped:", err)
	}
}
