// File path: internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/skyreach/opinioncore/internal/common"
	"github.com/skyreach/opinioncore/internal/ingest"
	"github.com/skyreach/opinioncore/internal/retrieval"
)

type ingestRequest struct {
	Topic     string                 `json:"topic"`
	Documents []ingest.DocumentInput `json:"documents"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	providerName := "none"
	if s.provider != nil {
		providerName = s.provider.Name()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"provider":         providerName,
		"vector_available": s.vectors.Available(),
		"catalog_enabled":  s.catalog != nil,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err)
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "validate", errors.New("topic required"))
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "validate", errors.New("documents required"))
		return
	}
	report, err := s.pipeline.Run(r.Context(), req.Topic, req.Documents)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingest", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err)
		return
	}
	resp, err := s.engine.Retrieve(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "retrieve", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.mapping.Topics()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "topics", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"topics": topics})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "runs", errors.New("catalog disabled"))
		return
	}
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	limit := queryInt(r, "limit")
	runs, err := s.catalog.Runs(r.Context(), topic, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleRejectedEdges(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "rejected_edges", errors.New("catalog disabled"))
		return
	}
	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		writeError(w, http.StatusBadRequest, "validate", errors.New("topic required"))
		return
	}
	limit := queryInt(r, "limit")
	edges, err := s.catalog.RejectedEdges(r.Context(), topic, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rejected_edges", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rejected_edges": edges})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": common.LogEntries()})
}

func queryInt(r *http.Request, key string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}
