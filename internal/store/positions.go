package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"streamrelay/internal/domain"
	"streamrelay/internal/metrics"
)

// PositionsRepository persists the whole playback-position map as one
// document, replaced in full on every mutation.
type PositionsRepository interface {
	LoadPositions(ctx context.Context) (map[string]domain.PlaybackPosition, error)
	ReplacePositions(ctx context.Context, positions map[string]domain.PlaybackPosition) error
}

// WatchedRepository persists the watched set the same way: one document
// holding hash -> item indices, replaced in full.
type WatchedRepository interface {
	LoadWatched(ctx context.Context) (map[string][]int, error)
	ReplaceWatched(ctx context.Context, watched map[string][]int) error
}

// Store is the process-wide playback-position and watched-set state. It keeps
// both maps in memory behind a mutex and writes the full map through the
// repository on every mutation. Writes per (hash, item) key are
// last-write-wins.
type Store struct {
	mu        sync.Mutex
	positions map[string]domain.PlaybackPosition
	watched   map[string]map[int]bool
	posRepo   PositionsRepository
	watchRepo WatchedRepository
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Store)

// WithClock overrides the store's time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(posRepo PositionsRepository, watchRepo WatchedRepository, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		positions: make(map[string]domain.PlaybackPosition),
		watched:   make(map[string]map[int]bool),
		posRepo:   posRepo,
		watchRepo: watchRepo,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(hash domain.InfoHash, index int) string {
	return fmt.Sprintf("%s:%d", hash, index)
}

// Load populates the in-memory maps from the repositories. Called once at
// startup before the server accepts requests.
func (s *Store) Load(ctx context.Context) error {
	positions, err := s.posRepo.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	watched, err := s.watchRepo.LoadWatched(ctx)
	if err != nil {
		return fmt.Errorf("load watched: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if positions != nil {
		s.positions = positions
	}
	s.watched = make(map[string]map[int]bool, len(watched))
	for hash, indices := range watched {
		set := make(map[int]bool, len(indices))
		for _, idx := range indices {
			set[idx] = true
		}
		s.watched[hash] = set
	}
	return nil
}

// Save records a progress report. Reports with elapsed at or below the noise
// threshold are dropped; a previously known duration survives a report that
// omits one.
func (s *Store) Save(ctx context.Context, hash domain.InfoHash, index int, elapsed, duration int64, transcoded bool) error {
	if elapsed <= domain.MinSavableElapsed {
		return nil
	}

	s.mu.Lock()
	k := key(hash, index)
	record := domain.PlaybackPosition{
		Hash:       hash,
		ItemIndex:  index,
		Elapsed:    elapsed,
		Duration:   duration,
		Transcoded: transcoded,
		UpdatedAt:  s.now(),
	}
	if duration <= 0 {
		if prev, ok := s.positions[k]; ok {
			record.Duration = prev.Duration
		}
	}
	s.positions[k] = record
	snapshot := s.snapshotPositionsLocked()
	s.mu.Unlock()

	return s.posRepo.ReplacePositions(ctx, snapshot)
}

// Get returns the stored position for (hash, index). A record past its
// 30-day age is deleted on read and reported as missing.
func (s *Store) Get(ctx context.Context, hash domain.InfoHash, index int) (domain.PlaybackPosition, bool, error) {
	s.mu.Lock()
	k := key(hash, index)
	record, ok := s.positions[k]
	if !ok {
		s.mu.Unlock()
		return domain.PlaybackPosition{}, false, nil
	}
	if record.IsExpired(s.now()) {
		delete(s.positions, k)
		snapshot := s.snapshotPositionsLocked()
		s.mu.Unlock()

		metrics.PositionsDeletedTotal.WithLabelValues("expired").Inc()
		s.logger.Debug("expired position dropped",
			slog.String("hash", string(hash)),
			slog.Int("index", index))
		return domain.PlaybackPosition{}, false, s.posRepo.ReplacePositions(ctx, snapshot)
	}
	s.mu.Unlock()
	return record, true, nil
}

// Clear deletes the position for (hash, index). Missing records are fine.
func (s *Store) Clear(ctx context.Context, hash domain.InfoHash, index int) error {
	s.mu.Lock()
	k := key(hash, index)
	if _, ok := s.positions[k]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.positions, k)
	snapshot := s.snapshotPositionsLocked()
	s.mu.Unlock()

	return s.posRepo.ReplacePositions(ctx, snapshot)
}

// ValidateAll scans every record and deletes the corrupt ones. Returns how
// many were removed. Run at startup and on the maintenance schedule.
func (s *Store) ValidateAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	removed := 0
	for k, record := range s.positions {
		if record.IsCorrupt() {
			delete(s.positions, k)
			removed++
		}
	}
	if removed == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	snapshot := s.snapshotPositionsLocked()
	s.mu.Unlock()

	metrics.PositionsDeletedTotal.WithLabelValues("corrupt").Add(float64(removed))
	s.logger.Info("corrupt positions removed", slog.Int("count", removed))
	return removed, s.posRepo.ReplacePositions(ctx, snapshot)
}

// MarkWatched inserts (hash, index) into the watched set. Idempotent: a
// second call for the same pair changes nothing and skips the write.
func (s *Store) MarkWatched(ctx context.Context, hash domain.InfoHash, index int) error {
	s.mu.Lock()
	set := s.watched[string(hash)]
	if set == nil {
		set = make(map[int]bool)
		s.watched[string(hash)] = set
	}
	if set[index] {
		s.mu.Unlock()
		return nil
	}
	set[index] = true
	snapshot := s.snapshotWatchedLocked()
	s.mu.Unlock()

	s.logger.Info("item marked watched",
		slog.String("hash", string(hash)),
		slog.Int("index", index))
	return s.watchRepo.ReplaceWatched(ctx, snapshot)
}

// IsWatched reports whether (hash, index) is in the watched set.
func (s *Store) IsWatched(hash domain.InfoHash, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watched[string(hash)][index]
}

// Watched returns the sorted item indices marked watched for hash.
func (s *Store) Watched(hash domain.InfoHash) []int {
	s.mu.Lock()
	set := s.watched[string(hash)]
	indices := make([]int, 0, len(set))
	for idx := range set {
		indices = append(indices, idx)
	}
	s.mu.Unlock()

	sort.Ints(indices)
	return indices
}

// ReportProgress applies one playback progress report: saves the position,
// marks the item watched once the ratio threshold is crossed, and clears the
// record when playback is effectively finished.
func (s *Store) ReportProgress(ctx context.Context, hash domain.InfoHash, index int, elapsed, duration int64, transcoded bool) error {
	record := domain.PlaybackPosition{
		Hash:      hash,
		ItemIndex: index,
		Elapsed:   elapsed,
		Duration:  duration,
	}

	if record.ReachedWatchedRatio() && !s.IsWatched(hash, index) {
		if err := s.MarkWatched(ctx, hash, index); err != nil {
			return err
		}
	}

	if record.IsFinished() {
		return s.Clear(ctx, hash, index)
	}
	return s.Save(ctx, hash, index, elapsed, duration, transcoded)
}

func (s *Store) snapshotPositionsLocked() map[string]domain.PlaybackPosition {
	snapshot := make(map[string]domain.PlaybackPosition, len(s.positions))
	for k, v := range s.positions {
		snapshot[k] = v
	}
	return snapshot
}

func (s *Store) snapshotWatchedLocked() map[string][]int {
	snapshot := make(map[string][]int, len(s.watched))
	for hash, set := range s.watched {
		indices := make([]int, 0, len(set))
		for idx := range set {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		snapshot[hash] = indices
	}
	return snapshot
}
