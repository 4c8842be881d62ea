package apihttp

import (
	"encoding/json"
	"net/http"

	"streamrelay/internal/domain"
)

type progressReport struct {
	Elapsed    int64 `json:"elapsed"`
	Duration   int64 `json:"duration,omitempty"`
	Transcoded bool  `json:"transcoded"`
}

type watchedResponse struct {
	Hash    domain.InfoHash `json:"hash"`
	Watched []int           `json:"watched"`
}

// handlePositions serves GET, PUT and DELETE on /positions/{hash}/{index}.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if s.positions == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "position store not configured")
		return
	}
	hash, index, err := parseItemPath(r.URL.Path, "/positions/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet:
		record, ok, err := s.positions.Get(r.Context(), hash, index)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "no saved position")
			return
		}
		writeJSON(w, http.StatusOK, record)

	case http.MethodPut:
		var report progressReport
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		if report.Elapsed < 0 || report.Duration < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "elapsed and duration must be >= 0")
			return
		}
		if err := s.positions.ReportProgress(r.Context(), hash, index, report.Elapsed, report.Duration, report.Transcoded); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})

	case http.MethodDelete:
		if err := s.positions.Clear(r.Context(), hash, index); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handleWatched serves GET /watched/{hash} and PUT /watched/{hash}/{index}.
func (s *Server) handleWatched(w http.ResponseWriter, r *http.Request) {
	if s.positions == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "position store not configured")
		return
	}
	parts := splitPathTail(r.URL.Path, "/watched/")
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
	case r.Method == http.MethodGet && len(parts) == 1:
		writeJSON(w, http.StatusOK, watchedResponse{
			Hash:    hash,
			Watched: s.positions.Watched(hash),
		})

	case r.Method == http.MethodPut && len(parts) == 2:
		hash, index, err := parseItemPath(r.URL.Path, "/watched/")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := s.positions.MarkWatched(r.Context(), hash, index); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "watched"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
