package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"streamrelay/internal/domain"
	"streamrelay/internal/metrics"
)

// Destroyer tears a session down at the origin. Destroy failures during a
// sweep are logged, never retried.
type Destroyer interface {
	RemoveSession(ctx context.Context, hash domain.InfoHash) error
}

type entry struct {
	title        string
	createdAt    time.Time
	lastActivity time.Time
}

// Snapshot is one registry entry as reported by List.
type Snapshot struct {
	Hash         domain.InfoHash `json:"hash"`
	Title        string          `json:"title"`
	LastActivity time.Time       `json:"lastActivity"`
	IdleFor      time.Duration   `json:"-"`
}

// Registry tracks which content sessions are being watched and evicts
// idle ones from the origin. At most one entry exists per infohash.
type Registry struct {
	mu          sync.Mutex
	entries     map[domain.InfoHash]*entry
	idleTimeout time.Duration
	destroyer   Destroyer
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Registry)

// WithClock overrides the registry clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

func New(destroyer Destroyer, idleTimeout time.Duration, logger *slog.Logger, opts ...Option) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 3 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		entries:     make(map[domain.InfoHash]*entry),
		idleTimeout: idleTimeout,
		destroyer:   destroyer,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Touch inserts or refreshes the entry for hash. An empty title never
// overwrites a known one.
func (r *Registry) Touch(hash domain.InfoHash, title string) {
	now := r.now()

	r.mu.Lock()
	e, ok := r.entries[hash]
	if !ok {
		e = &entry{createdAt: now}
		r.entries[hash] = e
	}
	if title != "" {
		e.title = title
	}
	e.lastActivity = now
	size := len(r.entries)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(size))
}

// Remove drops the entry without contacting the origin.
func (r *Registry) Remove(hash domain.InfoHash) {
	r.mu.Lock()
	delete(r.entries, hash)
	size := len(r.entries)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(size))
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IdleTimeout returns the configured inactivity threshold.
func (r *Registry) IdleTimeout() time.Duration {
	return r.idleTimeout
}

// List returns a point-in-time snapshot for observability, most recently
// active first is not guaranteed.
func (r *Registry) List() []Snapshot {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.entries))
	for hash, e := range r.entries {
		out = append(out, Snapshot{
			Hash:         hash,
			Title:        e.title,
			LastActivity: e.lastActivity,
			IdleFor:      now.Sub(e.lastActivity),
		})
	}
	return out
}

// Sweep evicts every entry idle longer than the threshold. The origin
// destroy call runs outside the registry lock; a failed destroy is logged
// and the entry is removed anyway so the registry cannot grow without
// bound behind a dead origin.
func (r *Registry) Sweep(ctx context.Context) {
	now := r.now()

	type expired struct {
		hash    domain.InfoHash
		title   string
		idleFor time.Duration
	}

	r.mu.Lock()
	var victims []expired
	for hash, e := range r.entries {
		idle := now.Sub(e.lastActivity)
		if idle > r.idleTimeout {
			victims = append(victims, expired{hash: hash, title: e.title, idleFor: idle})
			delete(r.entries, hash)
		}
	}
	size := len(r.entries)
	r.mu.Unlock()

	metrics.ActiveSessions.Set(float64(size))

	for _, v := range victims {
		r.logger.Info("evicting idle session",
			slog.String("hash", string(v.hash)),
			slog.String("title", v.title),
			slog.Int64("idleSeconds", int64(v.idleFor.Seconds())),
		)
		if r.destroyer == nil {
			continue
		}
		if err := r.destroyer.RemoveSession(ctx, v.hash); err != nil {
			metrics.SweepDestroyFailuresTotal.Inc()
			r.logger.Warn("origin destroy failed during sweep",
				slog.String("hash", string(v.hash)),
				slog.String("error", err.Error()),
			)
		}
		metrics.SessionsEvictedTotal.Inc()
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("session sweep stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
