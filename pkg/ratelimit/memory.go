package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is the in-memory fixed-window limiter. Valid for a single
// process only; use RedisLimiter when running multiple instances.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	length  time.Duration
	now     func() time.Time
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter creates a limiter with the given window length.
func NewMemoryLimiter(length time.Duration, opts ...MemoryOption) *MemoryLimiter {
	if length <= 0 {
		length = DefaultWindow
	}
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		length:  length,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit implements Limiter. The whole read-increment-compare runs under one
// lock, so concurrent admissions never lose or double-count increments.
func (l *MemoryLimiter) Admit(ctx context.Context, key string, budget int) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.length)}
		l.windows[key] = w
	}
	w.count++

	remaining := budget - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   w.count <= budget,
		Limit:     budget,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}, nil
}

// Sweep removes expired windows so idle keys do not leak memory.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// StartSweep runs Sweep on a ticker until ctx is cancelled. The sweep cadence
// is independent of request traffic.
func (l *MemoryLimiter) StartSweep(ctx context.Context) {
	ticker := time.NewTicker(l.length)
	go func() {
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// size returns the number of live windows. Test hook.
func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
