// Package httpapi implements the memory service's HTTP surface (spec §6
// "Memory service HTTP"), serving any types.MemoryFacade over the same
// request/response shapes internal/memory.Remote speaks as a client.
// Grounded on internal/webhook/server.go's http.ServeMux + method-prefixed
// pattern registration and JSON-error-body idiom.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/user/memex/internal/types"
)

// Server exposes a MemoryFacade over HTTP (spec §6).
type Server struct {
	memory types.MemoryFacade
	apiKey string
	mux    *http.ServeMux
}

// NewServer builds a Server over memory. When apiKey is non-empty, every
// request except GET /v1/qa/health must carry a matching
// "Authorization: Bearer <apiKey>" header (spec §6 "optional
// Authorization: Bearer <key>"); the health route is always open.
func NewServer(memory types.MemoryFacade, apiKey string) *Server {
	s := &Server{memory: memory, apiKey: apiKey, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /v1/qa/health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/qa/search", s.withAuth(s.handleSearch))
	s.mux.HandleFunc("POST /v1/qa/hit", s.withAuth(s.handleHit))
	s.mux.HandleFunc("POST /v1/qa/validate", s.withAuth(s.handleValidate))
	s.mux.HandleFunc("POST /v1/qa/candidates", s.withAuth(s.handleCandidates))
	s.mux.HandleFunc("POST /v1/qa/grade", s.withAuth(s.handleGrade))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			want := "Bearer " + s.apiKey
			if r.Header.Get("Authorization") != want {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var payload types.SearchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	results, err := s.memory.Search(r.Context(), payload)
	if err != nil {
		slog.Error("httpapi: search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, map[string]any{"results": results})
}

type hitRequest struct {
	ProjectID string         `json:"project_id"`
	Refs      []types.HitRef `json:"refs"`
}

func (s *Server) handleHit(w http.ResponseWriter, r *http.Request) {
	var req hitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.memory.RecordHit(r.Context(), req.ProjectID, req.Refs); err != nil {
		slog.Error("httpapi: record_hit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "record_hit failed")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type validateRequest struct {
	ProjectID string     `json:"project_id"`
	QAID      types.QAID `json:"qa_id"`
	Result    string     `json:"result"`
	Notes     string     `json:"notes,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.memory.RecordValidation(r.Context(), req.ProjectID, req.QAID, req.Result, req.Notes); err != nil {
		slog.Error("httpapi: record_validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "record_validation failed")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	var draft types.CandidateDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.memory.RecordCandidate(r.Context(), draft); err != nil {
		slog.Error("httpapi: record_candidate failed", "error", err)
		writeError(w, http.StatusInternalServerError, "record_candidate failed")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type taskGradeRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req taskGradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	level, err := s.memory.TaskGrade(r.Context(), req.Prompt)
	if err != nil {
		slog.Error("httpapi: task_grade failed", "error", err)
		writeError(w, http.StatusInternalServerError, "task_grade failed")
		return
	}
	writeJSON(w, map[string]string{"level": level})
}

var _ http.Handler = (*Server)(nil)
