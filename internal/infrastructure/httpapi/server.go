package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"TrialSync/internal/domain"
	"TrialSync/internal/ports"
)

// SyncControl is the scheduler surface the API exposes.
type SyncControl interface {
	TriggerImmediate() bool
	TriggerAndWait(ctx context.Context) (domain.SyncResult, error)
	Status() domain.SchedulerStatus
	Pause()
	Resume()
}

// Server is the operator-facing HTTP surface.
type Server struct {
	control  SyncControl
	tracking ports.TrackingStore
	index    ports.SemanticIndex
	logger   *slog.Logger
	metrics  http.Handler
}

// NewServer wires the API over the scheduler, the tracking store, and the
// semantic index.
func NewServer(control SyncControl, tracking ports.TrackingStore, index ports.SemanticIndex, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		control:  control,
		tracking: tracking,
		index:    index,
		logger:   logger,
		metrics:  promhttp.Handler(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		s.metrics.ServeHTTP(w, r)
		return
	}
	if r.URL.Path == "/v1/sync/status" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, s.control.Status())
		return
	}
	if r.URL.Path == "/v1/sync/trigger" && r.Method == http.MethodPost {
		started := s.control.TriggerImmediate()
		writeJSON(w, http.StatusAccepted, map[string]bool{"started": started})
		return
	}
	if r.URL.Path == "/v1/sync/run" && r.Method == http.MethodPost {
		s.handleRun(w, r)
		return
	}
	if r.URL.Path == "/v1/scheduler/pause" && r.Method == http.MethodPost {
		s.control.Pause()
		writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
		return
	}
	if r.URL.Path == "/v1/scheduler/resume" && r.Method == http.MethodPost {
		s.control.Resume()
		writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
		return
	}
	if r.URL.Path == "/v1/files" && r.Method == http.MethodDelete {
		s.handleForgetFile(w, r)
		return
	}
	if r.URL.Path == "/v1/trials" && r.Method == http.MethodGet {
		s.handleTrials(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) == 4 && parts[0] == "v1" && parts[1] == "trials" && parts[3] == "search" && r.Method == http.MethodGet {
		s.handleSearch(w, r, parts[2])
		return
	}

	writeError(w, http.StatusNotFound, "not_found", "route not found")
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.control.TriggerAndWait(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleForgetFile drops a tracking row so the next pass reprocesses the
// file as new. This is the operator escape hatch for rows stuck failed.
func (s *Server) handleForgetFile(w http.ResponseWriter, r *http.Request) {
	bucket := strings.TrimSpace(r.URL.Query().Get("bucket"))
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if bucket == "" || key == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing bucket or key query")
		return
	}

	_, found, err := s.tracking.GetByKey(r.Context(), bucket, key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "no tracking row for key")
		return
	}

	if err := s.tracking.DeleteByKey(r.Context(), bucket, key); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	s.logger.Info("tracking row removed for reprocess", "bucket", bucket, "key", key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrials(w http.ResponseWriter, r *http.Request) {
	trials, err := s.index.ListTrials(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	out := make([]domain.CollectionStats, 0, len(trials))
	for _, trial := range trials {
		stats, err := s.index.CollectionStats(r.Context(), trial)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		out = append(out, stats)
	}
	writeJSON(w, http.StatusOK, map[string]any{"trials": out})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, trialName string) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing q query")
		return
	}
	topK := parseBoundedInt(r.URL.Query().Get("k"), 5, 1, 100)

	var includeTypes []string
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		for _, docType := range strings.Split(raw, ",") {
			if docType = strings.TrimSpace(docType); docType != "" {
				includeTypes = append(includeTypes, docType)
			}
		}
	}

	docs, err := s.index.Retrieve(r.Context(), trialName, query, topK, includeTypes...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trial": trialName, "results": docs})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}
