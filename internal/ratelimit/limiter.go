// Package ratelimit provides the in-memory sliding window limiter shared by
// the per-endpoint middleware and the daily usage gate.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindowLimiter counts requests per key inside a rolling time window.
// Buckets hold raw timestamps so the window is anchored to each individual
// request, not to a wall-clock boundary.
type SlidingWindowLimiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time // overridable in tests
}

// NewSlidingWindowLimiter creates an empty limiter.
func NewSlidingWindowLimiter() *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check evicts expired entries for key, then either records the current
// attempt and returns true, or returns false without recording it.
// A limit of zero or less always denies.
func (l *SlidingWindowLimiter) Check(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket := l.evictLocked(key, now, window)

	if len(bucket) >= limit {
		l.buckets[key] = bucket
		return false
	}

	l.buckets[key] = append(bucket, now)
	return true
}

// Count returns the number of recorded requests for key still inside the
// window. Read-only apart from lazy eviction.
func (l *SlidingWindowLimiter) Count(key string, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.evictLocked(key, l.now(), window)
	l.buckets[key] = bucket
	return len(bucket)
}

// OldestInWindow returns the timestamp of the oldest recorded request for key,
// or the zero time when the bucket is empty. Used to tell callers when their
// rolling window frees up.
func (l *SlidingWindowLimiter) OldestInWindow(key string, window time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.evictLocked(key, l.now(), window)
	l.buckets[key] = bucket
	if len(bucket) == 0 {
		return time.Time{}
	}
	return bucket[0]
}

// Reset drops every bucket. Intended for tests.
func (l *SlidingWindowLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string][]time.Time)
}

// evictLocked drops entries older than window. Timestamps are appended in
// order, so the first surviving index bounds the slice.
func (l *SlidingWindowLimiter) evictLocked(key string, now time.Time, window time.Duration) []time.Time {
	bucket := l.buckets[key]
	cutoff := now.Add(-window)

	i := 0
	for i < len(bucket) && !bucket[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return bucket
	}
	if i == len(bucket) {
		delete(l.buckets, key)
		return nil
	}
	return append([]time.Time(nil), bucket[i:]...)
}
