package domain

import "time"

// PlaybackPosition is the persisted playback offset for one (session, item)
// pair. Elapsed and Duration are whole seconds; Duration is zero until the
// client or the duration probe reports it.
type PlaybackPosition struct {
	Hash       InfoHash  `json:"hash"`
	ItemIndex  int       `json:"itemIndex"`
	Elapsed    int64     `json:"elapsed"`
	Duration   int64     `json:"duration,omitempty"`
	Transcoded bool      `json:"transcoded"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

const (
	// MinSavableElapsed filters out accidental playback starts.
	MinSavableElapsed = 5
	// PositionMaxAge is how long an unread record survives.
	PositionMaxAge = 30 * 24 * time.Hour
	// WatchedRatio marks an item complete once elapsed/duration reaches it.
	WatchedRatio = 0.90
	// FinishedRemainder treats a position this close to the end as done.
	FinishedRemainder = 30
)

// IsCorrupt reports whether the record violates the position invariants:
// an offset past the known duration, or a duration implausibly small for
// the watch time already recorded (a mis-detected duration). Corrupt
// records are deleted, never repaired in place.
func (p PlaybackPosition) IsCorrupt() bool {
	if p.Duration <= 0 {
		return false
	}
	if p.Elapsed > p.Duration {
		return true
	}
	if p.Duration < 600 && p.Elapsed > 1200 {
		return true
	}
	return false
}

// IsExpired reports whether the record has gone unread past PositionMaxAge.
func (p PlaybackPosition) IsExpired(now time.Time) bool {
	return now.Sub(p.UpdatedAt) > PositionMaxAge
}

// IsFinished reports whether the position is close enough to the end that
// the item counts as fully played.
func (p PlaybackPosition) IsFinished() bool {
	return p.Duration > 0 && p.Duration-p.Elapsed < FinishedRemainder
}

// ReachedWatchedRatio reports whether the observed progress ratio crosses
// the watched threshold.
func (p PlaybackPosition) ReachedWatchedRatio() bool {
	return p.Duration > 0 && float64(p.Elapsed)/float64(p.Duration) >= WatchedRatio
}
