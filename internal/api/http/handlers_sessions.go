package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"streamrelay/internal/domain"
	"streamrelay/internal/registry"
)

type createSessionRequest struct {
	Magnet string `json:"magnet"`
	Title  string `json:"title"`
}

type createSessionResponse struct {
	Hash     domain.InfoHash `json:"hash"`
	Title    string          `json:"title,omitempty"`
	Degraded bool            `json:"degraded,omitempty"`
}

type sessionListResponse struct {
	Count       int                 `json:"count"`
	IdleTimeout float64             `json:"idleTimeoutSeconds"`
	Sessions    []registry.Snapshot `json:"sessions"`
}

type fileListResponse struct {
	Hash   domain.InfoHash       `json:"hash"`
	Ready  bool                  `json:"ready"`
	Source string                `json:"source"`
	Files  []domain.PlayableItem `json:"files"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, sessionListResponse{
			Count:       s.registry.Len(),
			IdleTimeout: s.registry.IdleTimeout().Seconds(),
			Sessions:    s.registry.List(),
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Magnet) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "magnet is required")
		return
	}

	result, err := s.originClient.AddSession(r.Context(), req.Magnet, req.Title)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.registry.Touch(result.Hash, result.Title)
	s.logger.Info("session created",
		slog.String("hash", string(result.Hash)),
		slog.Bool("degraded", result.Degraded))
	writeJSON(w, http.StatusOK, createSessionResponse{
		Hash:     result.Hash,
		Title:    result.Title,
		Degraded: result.Degraded,
	})
}

// handleSessionByHash serves GET /sessions/{hash}/files and
// DELETE /sessions/{hash}.
func (s *Server) handleSessionByHash(w http.ResponseWriter, r *http.Request) {
	parts := splitPathTail(r.URL.Path, "/sessions/")
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	hash, err := domain.NormalizeInfoHash(parts[0])
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "files":
		s.listSessionFiles(w, r, hash)
	case r.Method == http.MethodDelete && len(parts) == 1:
		s.deleteSession(w, r, hash)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) listSessionFiles(w http.ResponseWriter, r *http.Request, hash domain.InfoHash) {
	s.registry.Touch(hash, "")

	ready := s.originClient.WaitUntilReady(r.Context(), hash, s.readyPoll, s.readyMaxWait)
	files, source, err := s.originClient.ListFiles(r.Context(), hash)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fileListResponse{
		Hash:   hash,
		Ready:  ready,
		Source: source,
		Files:  files,
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request, hash domain.InfoHash) {
	s.registry.Remove(hash)
	if err := s.originClient.RemoveSession(r.Context(), hash); err != nil {
		// The registry entry is already gone; the origin-side session is
		// at worst leaked until its own cleanup.
		s.logger.Warn("origin session removal failed",
			slog.String("hash", string(hash)),
			slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
