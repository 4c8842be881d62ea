package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr       string
	MongoURI       string
	MongoDatabase  string
	LogLevel       string
	LogFormat      string
	OriginURL      string
	OriginUser     string
	OriginPassword string
	FFMPEGPath     string
	FFProbePath    string
	AudioBitrate   string
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration
	// IdleTimeout is how long a session may go untouched before eviction.
	IdleTimeout        time.Duration
	ReadyPollInterval  time.Duration
	ReadyMaxWait       time.Duration
	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGO_DB", "streamrelay"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		OriginURL:          strings.TrimRight(getEnv("ORIGIN_URL", "http://localhost:8090"), "/"),
		OriginUser:         getEnv("ORIGIN_USER", ""),
		OriginPassword:     getEnv("ORIGIN_PASSWORD", ""),
		FFMPEGPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		AudioBitrate:       getEnv("TRANSCODE_AUDIO_BITRATE", "128k"),
		SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", 30*time.Second),
		IdleTimeout:        getEnvDuration("SESSION_IDLE_TIMEOUT", 3*time.Minute),
		ReadyPollInterval:  getEnvDuration("ORIGIN_READY_POLL_INTERVAL", 2*time.Second),
		ReadyMaxWait:       getEnvDuration("ORIGIN_READY_MAX_WAIT", 30*time.Second),
		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	// Bare numbers are read as seconds.
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds <= 0 {
			return fallback
		}
		return time.Duration(seconds) * time.Second
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
