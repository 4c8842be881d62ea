package apihttp

import (
	"io"
	"log/slog"
	"net/http"

	"streamrelay/internal/metrics"
)

// handleStream proxies GET /stream/{hash}/{index} to the origin, copying the
// origin's status and headers verbatim and streaming the body through.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	hash, index, err := parseItemPath(r.URL.Path, "/stream/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	// Keep the sweep from evicting a session mid-playback.
	s.registry.Touch(hash, "")

	upstream, err := s.originClient.NewStreamRequest(r.Context(), hash, index, r.Header.Get("Range"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	resp, err := s.originClient.Do(upstream)
	if err != nil {
		metrics.ProxyUpstreamErrorsTotal.Inc()
		writeDomainError(w, err)
		return
	}
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}

	written, err := io.Copy(w, resp.Body)
	metrics.ProxyBytesTotal.Add(float64(written))
	if err != nil {
		// Headers are out; all we can do is log and drop the connection.
		s.logger.Debug("stream copy interrupted",
			slog.String("hash", string(hash)),
			slog.Int("index", index),
			slog.Int64("bytes", written),
			slog.String("error", err.Error()))
	}
}
