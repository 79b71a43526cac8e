// Package api exposes the analyzer over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"call-replay-analyzer/analyzer"
	"call-replay-analyzer/call"
	"call-replay-analyzer/logger"
	"call-replay-analyzer/pipeline"
	"call-replay-analyzer/prefilter"
	"call-replay-analyzer/store"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Server implements the analyzer HTTP API.
type Server struct {
	analyzer  *analyzer.Analyzer
	orch      *pipeline.Orchestrator
	detector  *prefilter.Detector
	store     store.Store
	log       logrus.FieldLogger
	authToken string
}

func NewServer(
	a *analyzer.Analyzer,
	orch *pipeline.Orchestrator,
	detector *prefilter.Detector,
	st store.Store,
	log logrus.FieldLogger,
	authToken string,
) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		analyzer:  a,
		orch:      orch,
		detector:  detector,
		store:     st,
		log:       log,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/analyze-call", s.handleAnalyzeCall)
	mux.HandleFunc("/api/v1/analyze-batch", s.handleAnalyzeBatch)
	mux.HandleFunc("/api/v1/prefilter-check", s.handlePrefilterCheck)
	mux.HandleFunc("/api/v1/generate-fixes", s.handleGenerateFixes)
	mux.HandleFunc("/api/v1/generate-summary", s.handleGenerateSummary)
	mux.HandleFunc("/api/v1/pipeline/run", s.handlePipelineRun)
	mux.HandleFunc("/api/v1/ingest", s.handleIngest)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/storage/backup", s.handleStorageBackup)
	mux.HandleFunc("/api/v1/storage", s.handleStorageClear)

	var h http.Handler = mux
	if s.authToken != "" {
		h = s.authMiddleware(h)
	}
	return s.requestLog(h)
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.WithRequest(s.log, r).Debug("api: request")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health stays public so probes work without credentials.
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "call-replay-analyzer"})
}

// transcriptRequest is the wire shape shared by the single-call endpoints.
type transcriptRequest struct {
	CallID   string              `json:"call_id"`
	Dialog   []call.DialogueTurn `json:"dialog"`
	Metadata map[string]any      `json:"metadata"`
}

func (req *transcriptRequest) transcript() *call.Transcript {
	return &call.Transcript{CallID: req.CallID, Dialog: req.Dialog, Metadata: req.Metadata}
}

func (req *transcriptRequest) validate() string {
	if req.CallID == "" {
		return "call_id is required"
	}
	if len(req.Dialog) == 0 {
		return "dialog must not be empty"
	}
	return ""
}

type batchRequest struct {
	Calls []transcriptRequest `json:"calls"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleAnalyzeCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req transcriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.AnalyzeTranscript(r.Context(), req.transcript()))
}

func (s *Server) handleAnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Calls) == 0 {
		writeError(w, http.StatusBadRequest, "calls must not be empty")
		return
	}

	results := make([]call.AnalysisResponse, 0, len(req.Calls))
	for i := range req.Calls {
		results = append(results, *s.analyzer.AnalyzeTranscript(r.Context(), req.Calls[i].transcript()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":    results,
		"statistics": analyzer.ComputeStats(results),
	})
}

func (s *Server) handlePrefilterCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req transcriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	writeJSON(w, http.StatusOK, s.detector.Evaluate(req.transcript()))
}

func (s *Server) handleGenerateFixes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Analysis *call.AnalysisResult `json:"analysis"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Analysis == nil {
		writeError(w, http.StatusBadRequest, "analysis is required")
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.GenerateFixes(r.Context(), req.Analysis))
}

func (s *Server) handleGenerateSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Analyses []call.AnalysisResult `json:"analyses"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Analyses) == 0 {
		writeError(w, http.StatusBadRequest, "analyses must not be empty")
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.GenerateSummary(r.Context(), req.Analyses))
}

func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req batchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Calls) == 0 {
		writeError(w, http.StatusBadRequest, "calls must not be empty")
		return
	}

	transcripts := make([]*call.Transcript, 0, len(req.Calls))
	for i := range req.Calls {
		transcripts = append(transcripts, req.Calls[i].transcript())
	}
	writeJSON(w, http.StatusOK, s.orch.RunBatch(r.Context(), transcripts))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req transcriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ack := s.orch.Ingest(req.transcript(), req.Metadata)
	status := http.StatusAccepted
	if ack.Status == "error" {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, ack)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	limit := defaultHistoryLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}
	if status := q.Get("status"); status != "" {
		switch call.Status(status) {
		case call.StatusAnalyzed, call.StatusSkipped, call.StatusError:
		default:
			writeError(w, http.StatusBadRequest, "status must be analyzed, skipped or error")
			return
		}
	}

	records, err := s.store.Query(store.Filter{
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
		CallID:    q.Get("call_id"),
		Status:    q.Get("status"),
		Limit:     limit,
	})
	if err != nil {
		s.log.WithError(err).Error("api: history query")
		writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"results": records,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st, err := s.store.Stats()
	if err != nil {
		s.log.WithError(err).Error("api: storage stats")
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"storage": st,
		"analyzer": map[string]any{
			"detector": s.detector.Describe(),
		},
	})
}

func (s *Server) handleStorageBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}

	path, err := s.store.Backup(req.Path)
	if err != nil {
		s.log.WithError(err).Error("api: storage backup")
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backup_path": path})
}

func (s *Server) handleStorageClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.store.Clear(); err != nil {
		s.log.WithError(err).Error("api: storage clear")
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
