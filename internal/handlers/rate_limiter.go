package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// slidingWindowLimiter admits at most limit events per key within any window-long span.
type slidingWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string][]time.Time
	sweeps int
}

const sweepEvery = 256

func newSlidingWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &slidingWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string][]time.Time),
	}
}

func (l *slidingWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweeps++
	if l.sweeps >= sweepEvery {
		l.sweeps = 0
		l.pruneExpiredLocked(cutoff)
	}

	hits := trimBefore(l.store[key], cutoff)
	if len(hits) >= l.limit {
		l.store[key] = hits
		return false
	}
	l.store[key] = append(hits, now)
	return true
}

func (l *slidingWindowLimiter) pruneExpiredLocked(cutoff time.Time) {
	for key, hits := range l.store {
		hits = trimBefore(hits, cutoff)
		if len(hits) == 0 {
			delete(l.store, key)
			continue
		}
		l.store[key] = hits
	}
}

// trimBefore drops timestamps at or before cutoff; hits are in ascending order.
func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
