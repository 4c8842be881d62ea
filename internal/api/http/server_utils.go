package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"streamrelay/internal/domain"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformedLocator):
		writeError(w, http.StatusBadRequest, "malformed_locator", "locator does not embed a valid identifier")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrOriginUnavailable):
		writeError(w, http.StatusBadGateway, "origin_unavailable", "origin did not respond")
	case errors.Is(err, domain.ErrTranscodeSpawnFailed):
		writeError(w, http.StatusInternalServerError, "transcode_failed", "could not start transcoder")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// parseItemPath parses "{hash}/{index}" from the path tail of prefix.
func parseItemPath(path, prefix string) (domain.InfoHash, int, error) {
	parts := splitPathTail(path, prefix)
	if len(parts) != 2 {
		return "", 0, errors.New("expected {hash}/{index}")
	}
	hash, err := domain.NormalizeInfoHash(parts[0])
	if err != nil {
		return "", 0, err
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil || index < 0 {
		return "", 0, errors.New("invalid item index")
	}
	return hash, index, nil
}

// parseSeek reads the seek query parameter in whole seconds. Absent or
// malformed values resolve to 0 (play from the start).
func parseSeek(value string) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}
	seek, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || seek < 0 {
		return 0
	}
	return seek
}
