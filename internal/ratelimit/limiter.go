// Package ratelimit guards the recognition-request boundary against
// per-client overuse with a sliding window of request timestamps.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits up to ceiling requests per identity inside a trailing
// window. Check and record are a single atomic unit under the mutex, so
// concurrent callers for the same identity can neither double-count nor lose
// a reservation. Records live only in process memory.
type Limiter struct {
	mu      sync.Mutex
	window  time.Duration
	ceiling int
	hits    map[string][]time.Time
	now     func() time.Time
}

// New creates a limiter. Window and ceiling come from configuration, not
// hardcoded constants.
func New(window time.Duration, ceiling int) *Limiter {
	return &Limiter{
		window:  window,
		ceiling: ceiling,
		hits:    map[string][]time.Time{},
		now:     time.Now,
	}
}

// Allow reports whether a request from identity is admitted right now, and
// records it if so. Entries older than the window are purged on each check.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.hits[identity][:0]
	for _, t := range l.hits[identity] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= l.ceiling {
		l.hits[identity] = recent
		return false
	}

	l.hits[identity] = append(recent, now)
	return true
}

// Remaining reports how many admissions identity has left in the current
// window. Diagnostic only; Allow is the authoritative check.
func (l *Limiter) Remaining(identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	n := 0
	for _, t := range l.hits[identity] {
		if t.After(cutoff) {
			n++
		}
	}
	if n >= l.ceiling {
		return 0
	}
	return l.ceiling - n
}
