package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "streamrelay/internal/api/http"
	"streamrelay/internal/app"
	"streamrelay/internal/metrics"
	"streamrelay/internal/origin"
	"streamrelay/internal/registry"
	"streamrelay/internal/store"
	storemongo "streamrelay/internal/store/mongo"
	"streamrelay/internal/telemetry"
	"streamrelay/internal/transcode"
)

const maintenanceInterval = 6 * time.Hour

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "streamrelay")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "streamrelay"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("originURL", cfg.OriginURL),
		slog.Duration("idleTimeout", cfg.IdleTimeout),
		slog.Duration("sweepInterval", cfg.SweepInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := storemongo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	positionsRepo := storemongo.NewPositionsRepository(mongoClient, cfg.MongoDatabase)
	watchedRepo := storemongo.NewWatchedRepository(mongoClient, cfg.MongoDatabase)
	positions := store.New(positionsRepo, watchedRepo, logger)
	if err := positions.Load(ctx); err != nil {
		logger.Error("position store load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if removed, err := positions.ValidateAll(ctx); err != nil {
		logger.Warn("position validation failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("startup position validation", slog.Int("removed", removed))
	}

	originClient := origin.New(origin.Config{
		BaseURL:  cfg.OriginURL,
		Username: cfg.OriginUser,
		Password: cfg.OriginPassword,
		Logger:   logger,
	})

	reg := registry.New(originClient, cfg.IdleTimeout, logger)
	go reg.Run(rootCtx, cfg.SweepInterval)

	prober := transcode.NewProber(cfg.FFProbePath, originClient.BasicAuthValue())
	manager := transcode.NewManager(cfg.FFMPEGPath, cfg.AudioBitrate, originClient.BasicAuthValue(), logger)

	handler := apihttp.NewServer(originClient, reg,
		apihttp.WithLogger(logger),
		apihttp.WithPositions(positions),
		apihttp.WithProber(prober),
		apihttp.WithTranscoder(manager),
		apihttp.WithReadyWindow(cfg.ReadyPollInterval, cfg.ReadyMaxWait),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)

	go broadcastLoop(rootCtx, handler)
	go maintenanceLoop(rootCtx, positions, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0, // streaming responses run until the client disconnects
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	manager.Shutdown()
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

// broadcastLoop pushes registry snapshots and origin health to connected
// WebSocket clients on independent schedules.
func broadcastLoop(ctx context.Context, handler *apihttp.Server) {
	sessionTicker := time.NewTicker(10 * time.Second)
	healthTicker := time.NewTicker(30 * time.Second)
	defer sessionTicker.Stop()
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionTicker.C:
			handler.BroadcastSessions()
		case <-healthTicker.C:
			handler.BroadcastOriginHealth(ctx)
		}
	}
}

// maintenanceLoop re-runs the stored position validation pass periodically
// so corrupt records left behind by crashed playbacks get cleaned up.
func maintenanceLoop(ctx context.Context, positions *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := positions.ValidateAll(ctx); err != nil {
				logger.Warn("position validation failed", slog.String("error", err.Error()))
			} else if removed > 0 {
				logger.Info("maintenance position validation", slog.Int("removed", removed))
			}
		}
	}
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.EqualFold(strings.TrimSpace(formatRaw), "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
