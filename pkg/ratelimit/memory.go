package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter implements fixed-window rate limiting with an in-process
// map. It is safe for concurrent use by multiple goroutines.
//
// Expired windows are removed lazily on access; an optional background
// goroutine sweeps abandoned keys so the map does not grow without bound
// under a churning caller population. For multi-instance deployments use
// RedisLimiter instead.
type MemoryLimiter struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopOnce      sync.Once
}

type window struct {
	start time.Time
	count int
}

// NewMemoryLimiter creates an in-memory limiter permitting max requests per
// (identity, endpoint) within each window.
func NewMemoryLimiter(windowSize time.Duration, max int) *MemoryLimiter {
	if windowSize <= 0 {
		panic("window must be positive")
	}
	if max <= 0 {
		panic("max must be positive")
	}

	return &MemoryLimiter{
		window:  windowSize,
		max:     max,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// NewMemoryLimiterWithCleanup additionally starts a background goroutine
// that sweeps expired windows at the given interval. Stop() must be called
// to prevent a goroutine leak.
func NewMemoryLimiterWithCleanup(windowSize time.Duration, max int, cleanupInterval time.Duration) *MemoryLimiter {
	l := NewMemoryLimiter(windowSize, max)
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	l.cleanupTicker = time.NewTicker(cleanupInterval)
	l.stopCleanup = make(chan struct{})
	l.cleanupDone = make(chan struct{})
	go l.runCleanup()

	return l
}

// SetClock replaces the limiter's time source. Intended for deterministic
// tests; not safe to call while the limiter is in use.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(ctx context.Context, identity, endpoint string) (Decision, error) {
	select {
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	default:
	}

	k := key(identity, endpoint)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[k]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now}
		l.windows[k] = w
	}

	if w.count >= l.max {
		return Decision{
			Permitted:  false,
			RetryAfter: w.start.Add(l.window).Sub(now),
			Remaining:  0,
			Limit:      l.max,
		}, nil
	}

	w.count++
	return Decision{
		Permitted: true,
		Remaining: l.max - w.count,
		Limit:     l.max,
	}, nil
}

// Len returns the number of tracked windows. Useful for tests and metrics.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Stop shuts down the background cleanup goroutine, if one was started.
// Safe to call multiple times.
func (l *MemoryLimiter) Stop() {
	if l.cleanupTicker == nil {
		return
	}
	l.stopOnce.Do(func() {
		close(l.stopCleanup)
		<-l.cleanupDone
		l.cleanupTicker.Stop()
	})
}

func (l *MemoryLimiter) runCleanup() {
	defer close(l.cleanupDone)

	for {
		select {
		case <-l.cleanupTicker.C:
			l.sweep()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *MemoryLimiter) sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
}
