package apihttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/sessions", "/sessions"},
		{"/sessions/ABC123", "/sessions/:hash"},
		{"/sessions/ABC123/files", "/sessions/:hash/files"},
		{"/stream/abc/0", "/stream/:hash/:index"},
		{"/transcode/abc/0", "/transcode/:hash/:index"},
		{"/probe/abc/0", "/probe/:hash/:index"},
		{"/positions/abc/0", "/positions/:hash/:index"},
		{"/watched/abc", "/watched/:hash"},
		{"/origin/status", "/origin/status"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/ws", "/ws"},
		{"/favicon.ico", "/other"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			if got := normalizeRoute(tc.path); got != tc.want {
				t.Fatalf("normalizeRoute(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestCORSPreflightAndWhitelist(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("preflight short-circuits", func(t *testing.T) {
		handler := corsMiddleware(nil, next)
		req := httptest.NewRequest(http.MethodOptions, "/sessions", nil)
		req.Header.Set("Origin", "http://player.local")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://player.local" {
			t.Fatalf("allow origin = %q", got)
		}
	})

	t.Run("whitelisted origin allowed", func(t *testing.T) {
		handler := corsMiddleware([]string{"http://player.local"}, next)
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set("Origin", "http://player.local")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://player.local" {
			t.Fatalf("allow origin = %q", got)
		}
	})

	t.Run("unlisted origin refused", func(t *testing.T) {
		handler := corsMiddleware([]string{"http://player.local"}, next)
		req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
		req.Header.Set("Origin", "http://evil.local")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("allow origin = %q, want empty", got)
		}
	})

	t.Run("range headers exposed", func(t *testing.T) {
		handler := corsMiddleware(nil, next)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/x/0", nil))

		exposed := rec.Header().Get("Access-Control-Expose-Headers")
		for _, header := range []string{"Content-Range", "X-Video-Duration"} {
			if !containsString(splitComma(exposed), header) {
				t.Fatalf("%q missing from exposed headers %q", header, exposed)
			}
		}
	})
}

func splitComma(value string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			item := value[start:i]
			for len(item) > 0 && item[0] == ' ' {
				item = item[1:]
			}
			if item != "" {
				out = append(out, item)
			}
			start = i + 1
		}
	}
	return out
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(testLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestRateLimitExemptsHealthAndMetrics(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rateLimitMiddleware(0, 0, next) // zero budget: everything limited

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("limited path status = %d, want 429", rec.Code)
	}

	for _, path := range []string{"/healthz", "/metrics"} {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestParseSeek(t *testing.T) {
	tests := []struct {
		value string
		want  int64
	}{
		{"", 0},
		{"0", 0},
		{"600", 600},
		{" 42 ", 42},
		{"-10", 0},
		{"abc", 0},
	}
	for _, tc := range tests {
		if got := parseSeek(tc.value); got != tc.want {
			t.Errorf("parseSeek(%q) = %d, want %d", tc.value, got, tc.want)
		}
	}
}
