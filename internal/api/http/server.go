package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"streamrelay/internal/domain"
	"streamrelay/internal/origin"
	"streamrelay/internal/registry"
	"streamrelay/internal/transcode"
)

// SessionClient is the origin control-API surface the server depends on.
type SessionClient interface {
	AddSession(ctx context.Context, locator, title string) (origin.AddResult, error)
	WaitUntilReady(ctx context.Context, hash domain.InfoHash, pollInterval, maxWait time.Duration) bool
	ListFiles(ctx context.Context, hash domain.InfoHash) ([]domain.PlayableItem, string, error)
	RemoveSession(ctx context.Context, hash domain.InfoHash) error
	Status(ctx context.Context) origin.Status
	StreamURL(hash domain.InfoHash, index int) string
	NewStreamRequest(ctx context.Context, hash domain.InfoHash, index int, rangeHeader string) (*http.Request, error)
	Do(req *http.Request) (*http.Response, error)
}

// CodecProber decides passthrough-vs-transcode and discovers durations.
type CodecProber interface {
	CheckCodec(ctx context.Context, url string) domain.CodecCheck
	Duration(ctx context.Context, url string) int64
}

// TranscodeStarter owns the external remux processes.
type TranscodeStarter interface {
	Start(ctx context.Context, hash domain.InfoHash, index int, sourceURL string, seekSeconds int64) (*transcode.Process, error)
	Release(hash domain.InfoHash, index int, proc *transcode.Process)
}

// PositionStore is the playback-position and watched-set surface.
type PositionStore interface {
	Get(ctx context.Context, hash domain.InfoHash, index int) (domain.PlaybackPosition, bool, error)
	ReportProgress(ctx context.Context, hash domain.InfoHash, index int, elapsed, duration int64, transcoded bool) error
	Clear(ctx context.Context, hash domain.InfoHash, index int) error
	MarkWatched(ctx context.Context, hash domain.InfoHash, index int) error
	Watched(hash domain.InfoHash) []int
}

type Server struct {
	originClient   SessionClient
	registry       *registry.Registry
	positions      PositionStore
	prober         CodecProber
	transcoder     TranscodeStarter
	readyPoll      time.Duration
	readyMaxWait   time.Duration
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithPositions(store PositionStore) ServerOption {
	return func(s *Server) {
		s.positions = store
	}
}

func WithProber(prober CodecProber) ServerOption {
	return func(s *Server) {
		s.prober = prober
	}
}

func WithTranscoder(manager TranscodeStarter) ServerOption {
	return func(s *Server) {
		s.transcoder = manager
	}
}

// WithReadyWindow configures the readiness poll interval and ceiling used
// before listing a session's files.
func WithReadyWindow(pollInterval, maxWait time.Duration) ServerOption {
	return func(s *Server) {
		s.readyPoll = pollInterval
		s.readyMaxWait = maxWait
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(originClient SessionClient, reg *registry.Registry, opts ...ServerOption) *Server {
	s := &Server{
		originClient: originClient,
		registry:     reg,
		readyPoll:    2 * time.Second,
		readyMaxWait: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionByHash)
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/transcode/", s.handleTranscode)
	mux.HandleFunc("/probe/", s.handleProbe)
	mux.HandleFunc("/positions/", s.handlePositions)
	mux.HandleFunc("/watched/", s.handleWatched)
	mux.HandleFunc("/origin/status", s.handleOriginStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "streamrelay",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOriginStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.originClient.Status(r.Context()))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if !s.wsHub.add(client) {
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// BroadcastSessions pushes the registry snapshot to all WebSocket clients.
func (s *Server) BroadcastSessions() {
	if s.wsHub == nil || s.registry == nil {
		return
	}
	s.wsHub.Broadcast("sessions", sessionListResponse{
		Count:       s.registry.Len(),
		IdleTimeout: s.registry.IdleTimeout().Seconds(),
		Sessions:    s.registry.List(),
	})
}

// BroadcastOriginHealth pushes the origin health verdict to all clients.
func (s *Server) BroadcastOriginHealth(ctx context.Context) {
	if s.wsHub == nil {
		return
	}
	s.wsHub.Broadcast("origin", s.originClient.Status(ctx))
}

// splitPathTail strips prefix from the request path and returns the remaining
// slash-separated parts.
func splitPathTail(path, prefix string) []string {
	tail := strings.TrimPrefix(path, prefix)
	tail = strings.Trim(tail, "/")
	if tail == "" {
		return nil
	}
	return strings.Split(tail, "/")
}
