package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"streamrelay/internal/domain"
	"streamrelay/internal/metrics"
)

type jobKey struct {
	hash  domain.InfoHash
	index int
}

type job struct {
	proc      *Process
	startedAt time.Time
	seek      int64
}

// Manager supervises ffmpeg remux processes. At most one live process exists
// per (hash, item) pair: starting a new remux for a pair stops and reaps the
// previous one first, which is how seeking works.
type Manager struct {
	mu         sync.Mutex
	jobs       map[jobKey]*job
	keyLocks   map[jobKey]*sync.Mutex
	ffmpegPath string
	bitrate    string
	authHeader string
	logger     *slog.Logger
}

// NewManager returns a Manager spawning the given ffmpeg binary.
func NewManager(ffmpegPath, audioBitrate, authHeader string, logger *slog.Logger) *Manager {
	bin := strings.TrimSpace(ffmpegPath)
	if bin == "" {
		bin = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:       make(map[jobKey]*job),
		keyLocks:   make(map[jobKey]*sync.Mutex),
		ffmpegPath: bin,
		bitrate:    audioBitrate,
		authHeader: authHeader,
		logger:     logger,
	}
}

// lockKey returns the mutex serializing all transitions for one (hash, item)
// pair. Replacing a process spans a stop, a wait and a spawn; holding the
// key lock across the whole transition keeps concurrent starts for the same
// pair from each spawning their own ffmpeg.
func (m *Manager) lockKey(key jobKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.keyLocks[key]
	if l == nil {
		l = &sync.Mutex{}
		m.keyLocks[key] = l
	}
	return l
}

// Start launches a remux of sourceURL seeked to seekSeconds, replacing any
// running remux for the same (hash, index). The returned Process is already
// started; the caller streams its Stdout and must call Release when done.
func (m *Manager) Start(ctx context.Context, hash domain.InfoHash, index int, sourceURL string, seekSeconds int64) (*Process, error) {
	key := jobKey{hash: hash, index: index}
	kl := m.lockKey(key)
	kl.Lock()
	defer kl.Unlock()

	m.mu.Lock()
	prev := m.jobs[key]
	delete(m.jobs, key)
	m.mu.Unlock()

	if prev != nil {
		prev.proc.Stop()
		prev.proc.Wait()
		m.finishJob(prev)
		m.logger.Debug("replaced running transcode",
			slog.String("hash", string(hash)),
			slog.Int("index", index),
			slog.Int64("seek", seekSeconds))
	}

	proc := NewProcess(ctx, m.ffmpegPath, RemuxConfig{
		Input:        sourceURL,
		SeekSeconds:  seekSeconds,
		AudioBitrate: m.bitrate,
		AuthHeader:   m.authHeader,
	})
	if err := proc.Start(); err != nil {
		metrics.TranscodeFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrTranscodeSpawnFailed, err)
	}

	j := &job{proc: proc, startedAt: time.Now(), seek: seekSeconds}
	m.mu.Lock()
	m.jobs[key] = j
	m.mu.Unlock()

	metrics.TranscodeStartsTotal.Inc()
	if seekSeconds > 0 {
		metrics.TranscodeSeeksTotal.Inc()
	}
	metrics.TranscodeActiveJobs.Inc()

	m.logger.Info("transcode started",
		slog.String("hash", string(hash)),
		slog.Int("index", index),
		slog.Int64("seek", seekSeconds))
	return proc, nil
}

// Release stops the remux for (hash, index) if it is still the one owning
// proc. Called when the client disconnects or the stream completes.
func (m *Manager) Release(hash domain.InfoHash, index int, proc *Process) {
	key := jobKey{hash: hash, index: index}
	kl := m.lockKey(key)
	kl.Lock()
	defer kl.Unlock()

	m.mu.Lock()
	j := m.jobs[key]
	if j == nil || j.proc != proc {
		// Already replaced by a seek; the replacement reaped it.
		m.mu.Unlock()
		return
	}
	delete(m.jobs, key)
	m.mu.Unlock()

	j.proc.Stop()
	j.proc.Wait()
	m.finishJob(j)
}

// ActiveCount returns the number of live remux processes.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Shutdown stops every live remux and waits for each to exit. In-flight
// starts are waited out via their key locks so nothing spawns past the drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	locks := make([]*sync.Mutex, 0, len(m.keyLocks))
	for _, l := range m.keyLocks {
		locks = append(locks, l)
	}
	m.mu.Unlock()
	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for _, l := range locks {
			l.Unlock()
		}
	}()

	m.mu.Lock()
	jobs := make([]*job, 0, len(m.jobs))
	for key, j := range m.jobs {
		jobs = append(jobs, j)
		delete(m.jobs, key)
	}
	m.mu.Unlock()

	for _, j := range jobs {
		j.proc.Stop()
		j.proc.Wait()
		m.finishJob(j)
	}
}

func (m *Manager) finishJob(j *job) {
	metrics.TranscodeActiveJobs.Dec()
	metrics.TranscodeJobDuration.Observe(time.Since(j.startedAt).Seconds())
}
