package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamrelay/internal/domain"
)

type fakeDestroyer struct {
	mu     sync.Mutex
	calls  []domain.InfoHash
	err    error
}

func (f *fakeDestroyer) RemoveSession(_ context.Context, hash domain.InfoHash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, hash)
	return f.err
}

func (f *fakeDestroyer) destroyed() []domain.InfoHash {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.InfoHash(nil), f.calls...)
}

func newTestRegistry(destroyer Destroyer, idleTimeout time.Duration, now *time.Time) *Registry {
	return New(destroyer, idleTimeout, nil, WithClock(func() time.Time { return *now }))
}

func TestTouchThenSweepNeverEvictsFresh(t *testing.T) {
	now := time.Now()
	destroyer := &fakeDestroyer{}
	r := newTestRegistry(destroyer, 3*time.Minute, &now)

	r.Touch("HASH1", "Title One")
	r.Sweep(context.Background())

	if r.Len() != 1 {
		t.Fatalf("freshly touched entry must survive the sweep, len = %d", r.Len())
	}
	if len(destroyer.destroyed()) != 0 {
		t.Errorf("no destroy calls expected, got %v", destroyer.destroyed())
	}
}

func TestSweepEvictsExactlyIdleEntries(t *testing.T) {
	now := time.Now()
	destroyer := &fakeDestroyer{}
	r := newTestRegistry(destroyer, 3*time.Minute, &now)

	r.Touch("OLD", "old")
	now = now.Add(4 * time.Minute)
	r.Touch("FRESH", "fresh")
	r.Sweep(context.Background())

	if r.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", r.Len())
	}
	snapshots := r.List()
	if len(snapshots) != 1 || snapshots[0].Hash != "FRESH" {
		t.Errorf("expected FRESH to survive, got %+v", snapshots)
	}
	destroyed := destroyer.destroyed()
	if len(destroyed) != 1 || destroyed[0] != "OLD" {
		t.Errorf("expected exactly OLD destroyed, got %v", destroyed)
	}
}

func TestSweepRemovesEntryEvenWhenDestroyFails(t *testing.T) {
	now := time.Now()
	destroyer := &fakeDestroyer{err: errors.New("origin down")}
	r := newTestRegistry(destroyer, time.Minute, &now)

	r.Touch("DOOMED", "t")
	now = now.Add(2 * time.Minute)
	r.Sweep(context.Background())

	if r.Len() != 0 {
		t.Fatal("entry must be removed even when the origin destroy fails")
	}
}

func TestTouchRefreshesActivity(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&fakeDestroyer{}, 3*time.Minute, &now)

	r.Touch("H", "t")
	now = now.Add(2 * time.Minute)
	r.Touch("H", "")
	now = now.Add(2 * time.Minute)
	r.Sweep(context.Background())

	// 2 minutes since the refresh, under the 3 minute threshold.
	if r.Len() != 1 {
		t.Fatal("refreshed entry must not be evicted")
	}
}

func TestTouchKeepsTitleWhenRefreshOmitsIt(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&fakeDestroyer{}, time.Minute, &now)

	r.Touch("H", "Original Title")
	r.Touch("H", "")

	snapshots := r.List()
	if len(snapshots) != 1 || snapshots[0].Title != "Original Title" {
		t.Errorf("expected title preserved, got %+v", snapshots)
	}
}

func TestTouchAfterRemoveRecreates(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&fakeDestroyer{}, time.Minute, &now)

	r.Touch("H", "t")
	r.Remove("H")
	if r.Len() != 0 {
		t.Fatal("remove must drop the entry")
	}

	r.Touch("H", "t")
	if r.Len() != 1 {
		t.Fatal("touch after remove must re-create the entry")
	}
}

func TestOneEntryPerHash(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&fakeDestroyer{}, time.Minute, &now)

	for i := 0; i < 5; i++ {
		r.Touch("SAME", "t")
	}
	if r.Len() != 1 {
		t.Fatalf("expected a single entry per hash, got %d", r.Len())
	}
}

func TestListReportsIdleDuration(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&fakeDestroyer{}, 10*time.Minute, &now)

	r.Touch("H", "t")
	now = now.Add(90 * time.Second)

	snapshots := r.List()
	if len(snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snapshots))
	}
	if snapshots[0].IdleFor != 90*time.Second {
		t.Errorf("idleFor: got %v, want 90s", snapshots[0].IdleFor)
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	destroyer := &fakeDestroyer{}
	r := New(destroyer, time.Millisecond, nil)

	r.Touch("H", "t")
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for r.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("sweep loop did not evict the idle entry in time")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}
