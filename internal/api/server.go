// File path: internal/api/server.go
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/skyreach/opinioncore/internal/catalog"
	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/ingest"
	"github.com/skyreach/opinioncore/internal/llm"
	"github.com/skyreach/opinioncore/internal/mapping"
	"github.com/skyreach/opinioncore/internal/retrieval"
	"github.com/skyreach/opinioncore/internal/vector"
)

// Server is the HTTP surface over the ingestion pipeline and the retrieval
// engine. The catalog is optional; its endpoints answer 503 when absent.
type Server struct {
	router   chi.Router
	pipeline *ingest.Pipeline
	engine   *retrieval.Engine
	catalog  *catalog.Store
	mapping  *mapping.Store
	vectors  vector.Store
	provider llm.Provider
}

func NewServer(pipeline *ingest.Pipeline, engine *retrieval.Engine, cat *catalog.Store, store *mapping.Store, vectors vector.Store, provider llm.Provider) (*Server, error) {
	if pipeline == nil || engine == nil || store == nil || vectors == nil {
		return nil, fmt.Errorf("api: pipeline, engine, mapping store and vector store required")
	}
	logger := common.Logger()
	providerName := "unknown"
	if provider != nil {
		providerName = provider.Name()
	}
	logger.Info("api: building server",
		"provider", providerName,
		"vector_available", vectors.Available(),
		"catalog_enabled", cat != nil,
	)
	srv := &Server{
		router:   chi.NewRouter(),
		pipeline: pipeline,
		engine:   engine,
		catalog:  cat,
		mapping:  store,
		vectors:  vectors,
		provider: provider,
	}
	srv.routes()
	return srv, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "dur", time.Since(start), "remote", r.RemoteAddr)
		})
	})

	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/v1/ingest", s.handleIngest)
	s.router.Post("/v1/retrieve", s.handleRetrieve)
	s.router.Get("/v1/topics", s.handleTopics)
	s.router.Get("/v1/runs", s.handleRuns)
	s.router.Get("/v1/rejected-edges", s.handleRejectedEdges)
	s.router.Get("/v1/logs", s.handleLogs)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, stage string, err error) {
	common.Logger().Warn("api: request failed", "stage", stage, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error(), "stage": stage})
}
