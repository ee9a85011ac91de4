package ratelimit

import (
	"sync"
	"time"
)

// Window is a fixed-window rate limiter that tracks each key (a producer, a
// connection) independently.
type Window struct {
	mu      sync.Mutex
	rate    int
	length  time.Duration
	buckets map[string]*bucket
}

type bucket struct {
	count int
	start time.Time
}

// New creates a Window that allows rate requests per key per window length.
func New(rate int, length time.Duration) *Window {
	return &Window{
		rate:    rate,
		length:  length,
		buckets: make(map[string]*bucket),
	}
}

// Allow returns true if a request for key is within the rate limit.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	b, ok := w.buckets[key]
	if !ok {
		if len(w.buckets) >= 4096 {
			w.prune(now)
		}
		b = &bucket{start: now}
		w.buckets[key] = b
	}
	if now.Sub(b.start) > w.length {
		b.count = 0
		b.start = now
	}
	b.count++
	return b.count <= w.rate
}

// prune drops buckets whose window has long elapsed. Called with the lock held.
func (w *Window) prune(now time.Time) {
	for key, b := range w.buckets {
		if now.Sub(b.start) > 2*w.length {
			delete(w.buckets, key)
		}
	}
}
