package verify

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// rateLimitDecision is the outcome of one limiter hit, including the header
// values the server reports back to the client.
type rateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     int64 // epoch seconds when the window rolls over
}

// fixedWindowLimiter is a per-identity fixed-window request limiter. Counts
// live in memory; a multi-instance deployment would need a shared store
// instead.
type fixedWindowLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	buckets map[string]int
	now     func() time.Time
}

const limiterCleanupThreshold = 10000

func newFixedWindowLimiter(limit int, window time.Duration) *fixedWindowLimiter {
	if limit < 1 {
		limit = 1
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]int),
		now:     time.Now,
	}
}

// Hit records one request for identity and decides whether it is allowed.
func (l *fixedWindowLimiter) Hit(identity string) rateLimitDecision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := now.Unix() / int64(l.window/time.Second)
	reset := (window + 1) * int64(l.window/time.Second)

	key := fmt.Sprintf("%s:%d", identity, window)
	l.buckets[key]++
	count := l.buckets[key]

	// Cheap cleanup: when the map grows, keep only current and previous
	// windows.
	if len(l.buckets) > limiterCleanupThreshold {
		keep := fmt.Sprintf(":%d", window)
		keepPrev := fmt.Sprintf(":%d", window-1)
		for k := range l.buckets {
			if !strings.HasSuffix(k, keep) && !strings.HasSuffix(k, keepPrev) {
				delete(l.buckets, k)
			}
		}
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return rateLimitDecision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     reset,
	}
}
