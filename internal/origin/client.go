package origin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"streamrelay/internal/domain"
)

// Session readiness ordinals reported by the origin control API.
// 0 = added, 1 = fetching metadata, 2 = working, 3 = fully working.
const readyStatThreshold = 2

// placeholderItemCount bounds the synthesized playlist used when the origin
// cannot supply structured file data.
const placeholderItemCount = 20

const (
	statusTimeout = 5 * time.Second
	listTimeout   = 10 * time.Second
	removeTimeout = 10 * time.Second
	statTimeout   = 15 * time.Second
	addTimeout    = 30 * time.Second
)

type Config struct {
	BaseURL  string
	Username string
	Password string
	Logger   *slog.Logger
}

// Client is a thin typed client for the origin's control API. Transport and
// protocol failures surface as domain.ErrOriginUnavailable; the client never
// retries on its own.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// BaseURL returns the origin's base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BasicAuthValue returns the Authorization header value for the origin, or
// an empty string when no credentials are configured. Also consumed by the
// ffmpeg/ffprobe subprocesses via their -headers flag.
func (c *Client) BasicAuthValue() string {
	if c.username == "" && c.password == "" {
		return ""
	}
	raw := c.username + ":" + c.password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// StreamURL builds the origin's byte-range stream URL for one item.
func (c *Client) StreamURL(hash domain.InfoHash, index int) string {
	return fmt.Sprintf("%s/stream/video?link=%s&index=%d&play", c.baseURL, strings.ToLower(string(hash)), index)
}

type AddResult struct {
	Hash  domain.InfoHash
	Title string
	// Degraded is set when the origin rejected the submission and the
	// hash was derived locally from the locator instead.
	Degraded bool
}

type addRequest struct {
	Action   string `json:"action"`
	Link     string `json:"link"`
	Hash     string `json:"hash,omitempty"`
	Title    string `json:"title,omitempty"`
	Poster   string `json:"poster"`
	SaveToDB bool   `json:"save_to_db"`
}

// AddSession submits the locator to the origin. When the origin cannot be
// reached the hash is still derived from the locator and returned so
// playback can be attempted; the origin may be assembling the content
// asynchronously.
func (c *Client) AddSession(ctx context.Context, locator, title string) (AddResult, error) {
	hash, err := domain.InfoHashFromMagnet(locator)
	if err != nil {
		return AddResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, addTimeout)
	defer cancel()

	body := addRequest{Action: "add", Link: locator, Title: title, SaveToDB: true}
	if err := c.postJSON(ctx, "/torrents", body, nil); err != nil {
		c.logger.Warn("origin add failed, returning derived hash",
			slog.String("hash", string(hash)),
			slog.String("error", err.Error()),
		)
		return AddResult{Hash: hash, Title: title, Degraded: true}, nil
	}

	return AddResult{Hash: hash, Title: title}, nil
}

type sessionEntry struct {
	Hash       string `json:"hash"`
	Title      string `json:"title"`
	Stat       int    `json:"stat"`
	StatString string `json:"stat_string"`
	Data       string `json:"data"`
}

// WaitUntilReady polls the origin's session list until the session reports a
// ready readiness ordinal or maxWait elapses. It returns whether readiness
// was observed; callers proceed either way.
func (c *Client) WaitUntilReady(ctx context.Context, hash domain.InfoHash, pollInterval, maxWait time.Duration) bool {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 30 * time.Second
	}

	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		entry, err := c.findSession(ctx, hash)
		if err != nil {
			c.logger.Debug("readiness poll failed", slog.String("hash", string(hash)), slog.String("error", err.Error()))
		} else if entry != nil && entry.Stat >= readyStatThreshold {
			return true
		}

		if time.Now().After(deadline) {
			c.logger.Info("session not ready after max wait, proceeding anyway", slog.String("hash", string(hash)))
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (c *Client) findSession(ctx context.Context, hash domain.InfoHash) (*sessionEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	var entries []sessionEntry
	if err := c.postJSON(ctx, "/torrents", addRequest{Action: "list"}, &entries); err != nil {
		return nil, err
	}

	want := strings.ToLower(string(hash))
	for i := range entries {
		if strings.ToLower(entries[i].Hash) == want {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// fileListStrategy is one named way of obtaining a session's file list.
// Strategies are tried in order; the first non-empty result wins.
type fileListStrategy struct {
	name  string
	fetch func(ctx context.Context, hash domain.InfoHash) ([]originFile, error)
}

type originFile struct {
	ID     int    `json:"id"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// ListFiles fetches the session's file list and normalizes it to playable
// items, filtering to recognized video containers. When no strategy yields
// structured data it synthesizes a bounded placeholder playlist so the UI
// stays usable; the second return value names the source that served.
func (c *Client) ListFiles(ctx context.Context, hash domain.InfoHash) ([]domain.PlayableItem, string, error) {
	strategies := []fileListStrategy{
		{name: "session-data", fetch: c.filesFromSessionData},
		{name: "stat", fetch: c.filesFromStat},
	}

	for _, strategy := range strategies {
		files, err := strategy.fetch(ctx, hash)
		if err != nil {
			c.logger.Debug("file list strategy failed",
				slog.String("strategy", strategy.name),
				slog.String("hash", string(hash)),
				slog.String("error", err.Error()),
			)
			continue
		}
		items := buildItems(hash, files)
		if len(items) > 0 {
			return items, strategy.name, nil
		}
	}

	c.logger.Warn("no structured file data from origin, using placeholder playlist", slog.String("hash", string(hash)))
	return placeholderItems(hash), "placeholder", nil
}

func (c *Client) filesFromSessionData(ctx context.Context, hash domain.InfoHash) ([]originFile, error) {
	entry, err := c.findSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	if entry == nil || strings.TrimSpace(entry.Data) == "" {
		return nil, nil
	}

	var payload struct {
		TorrServer struct {
			Files []originFile `json:"Files"`
		} `json:"TorrServer"`
	}
	if err := json.Unmarshal([]byte(entry.Data), &payload); err != nil {
		return nil, fmt.Errorf("session data parse: %w", err)
	}
	return payload.TorrServer.Files, nil
}

func (c *Client) filesFromStat(ctx context.Context, hash domain.InfoHash) ([]originFile, error) {
	ctx, cancel := context.WithTimeout(ctx, statTimeout)
	defer cancel()

	body := struct {
		Hash string `json:"hash"`
		Link string `json:"link"`
	}{
		Hash: string(hash),
		Link: "magnet:?xt=urn:btih:" + string(hash),
	}

	var response struct {
		FileStats []originFile `json:"file_stats"`
	}
	if err := c.postJSON(ctx, "/stat", body, &response); err != nil {
		return nil, err
	}
	return response.FileStats, nil
}

func buildItems(hash domain.InfoHash, files []originFile) []domain.PlayableItem {
	items := make([]domain.PlayableItem, 0, len(files))
	for i, file := range files {
		name := file.Path
		if strings.TrimSpace(name) == "" {
			name = fmt.Sprintf("File %d", i+1)
		}
		if !domain.IsVideoFile(name) {
			continue
		}
		index := file.ID
		if index == 0 && i > 0 {
			index = i
		}
		items = append(items, newItem(hash, index, name, file.Length))
	}
	return items
}

func placeholderItems(hash domain.InfoHash) []domain.PlayableItem {
	items := make([]domain.PlayableItem, 0, placeholderItemCount)
	for i := 0; i < placeholderItemCount; i++ {
		items = append(items, newItem(hash, i, fmt.Sprintf("File %d", i+1), 0))
	}
	return items
}

func newItem(hash domain.InfoHash, index int, name string, size int64) domain.PlayableItem {
	lower := strings.ToLower(string(hash))
	sizeFormatted := "Unknown"
	if size > 0 {
		sizeFormatted = domain.FormatBytes(size)
	}
	return domain.PlayableItem{
		Index:         index,
		Name:          name,
		Size:          size,
		SizeFormatted: sizeFormatted,
		StreamURL:     fmt.Sprintf("/stream/%s/%d", lower, index),
		TranscodeURL:  fmt.Sprintf("/transcode/%s/%d", lower, index),
		ProbeURL:      fmt.Sprintf("/probe/%s/%d", lower, index),
	}
}

// RemoveSession tears the session down at the origin. Removing a session the
// origin no longer knows is not an error.
func (c *Client) RemoveSession(ctx context.Context, hash domain.InfoHash) error {
	ctx, cancel := context.WithTimeout(ctx, removeTimeout)
	defer cancel()

	body := struct {
		Action string `json:"action"`
		Hash   string `json:"hash"`
	}{Action: "rem", Hash: string(hash)}

	return c.postJSON(ctx, "/torrents", body, nil)
}

type Status struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Status reports whether the origin answers its health endpoint. It never
// returns an error: an unreachable origin is an "offline" status.
func (c *Client) Status(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return Status{Status: "offline", Error: err.Error()}
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{Status: "offline", Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Status{Status: "offline", Error: fmt.Sprintf("origin returned %d", resp.StatusCode)}
	}

	var payload struct {
		Version string `json:"version"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload)

	status := Status{Status: "online", Version: payload.Version}
	if status.Version == "" {
		status.Version = "Unknown"
	}
	return status
}

// NewStreamRequest builds an upstream GET for an item's byte stream,
// carrying the client's Range header. The caller owns the response body.
func (c *Client) NewStreamRequest(ctx context.Context, hash domain.InfoHash, index int, rangeHeader string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(hash, index), nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req, nil
}

// Do executes an upstream request on the client's transport.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrOriginUnavailable, err)
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrOriginUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s returned %d", domain.ErrOriginUnavailable, path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrOriginUnavailable, path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if value := c.BasicAuthValue(); value != "" {
		req.Header.Set("Authorization", value)
	}
}
