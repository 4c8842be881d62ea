package apihttp

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"streamrelay/internal/domain"
)

// handleProbe serves GET /probe/{hash}/{index}: the codec compatibility
// verdict for one item. Decided once per playback start, never mid-stream.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.prober == nil {
		writeError(w, http.StatusServiceUnavailable, "probe_unavailable", "prober not configured")
		return
	}
	hash, index, err := parseItemPath(r.URL.Path, "/probe/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.registry.Touch(hash, "")
	check := s.prober.CheckCodec(r.Context(), s.originClient.StreamURL(hash, index))
	writeJSON(w, http.StatusOK, check)
}

// handleTranscode serves GET|HEAD /transcode/{hash}/{index}?seek=S: a remuxed
// Matroska stream with video copied and audio re-encoded. Seeking restarts
// the process at the new offset; the prior process for the same item is
// killed first.
func (s *Server) handleTranscode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if s.transcoder == nil {
		writeError(w, http.StatusServiceUnavailable, "transcode_unavailable", "transcoder not configured")
		return
	}
	hash, index, err := parseItemPath(r.URL.Path, "/transcode/")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.registry.Touch(hash, "")
	seek := parseSeek(r.URL.Query().Get("seek"))
	sourceURL := s.originClient.StreamURL(hash, index)

	// First play only: discover the total duration so the client can seed
	// its seek bar. Seeks skip the probe, the duration has not changed.
	var duration int64
	if seek == 0 && s.prober != nil {
		duration = s.prober.Duration(r.Context(), sourceURL)
	}

	w.Header().Set("Content-Type", "video/x-matroska")
	if duration > 0 {
		w.Header().Set("X-Video-Duration", strconv.FormatInt(duration, 10))
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	proc, err := s.transcoder.Start(r.Context(), hash, index, sourceURL, seek)
	if err != nil {
		if errors.Is(err, domain.ErrTranscodeSpawnFailed) {
			writeError(w, http.StatusInternalServerError, "transcode_failed", "could not start transcoder")
			return
		}
		writeDomainError(w, err)
		return
	}
	// Binding the process to the request context already kills it on client
	// disconnect; Release also reaps it on normal completion.
	defer s.transcoder.Release(hash, index, proc)

	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, proc.Stdout())
	if err != nil {
		s.logger.Debug("transcode stream interrupted",
			slog.String("hash", string(hash)),
			slog.Int("index", index),
			slog.Int64("seek", seek),
			slog.Int64("bytes", written),
			slog.String("error", err.Error()))
		return
	}

	// Exit status after a complete stream is informational only.
	if err := proc.Wait(); err != nil {
		s.logger.Debug("transcoder exited non-zero after stream completion",
			slog.String("hash", string(hash)),
			slog.Int("index", index),
			slog.String("stderr", truncate(proc.Stderr(), 500)))
	}
}
