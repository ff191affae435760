// Package ratelimit implements a fixed-window hit counter over a timestamp
// list owned by the caller. The limiter itself holds no per-conversation
// state and no locks; callers must serialize access to the hit list.
package ratelimit

import "time"

// Limiter bounds accepted hits per window.
type Limiter struct {
	window  time.Duration
	maxHits int
}

// New returns a limiter allowing at most maxHits within any window.
func New(window time.Duration, maxHits int) *Limiter {
	return &Limiter{window: window, maxHits: maxHits}
}

// Allow prunes entries older than the window from hits, then either records
// now and returns true, or returns false without recording when the window
// is already full. Entries exactly at the window boundary are retained.
func (l *Limiter) Allow(hits *[]time.Time, now time.Time) bool {
	cutoff := now.Add(-l.window)
	kept := (*hits)[:0]
	for _, t := range *hits {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.maxHits {
		*hits = kept
		return false
	}
	*hits = append(kept, now)
	return true
}
