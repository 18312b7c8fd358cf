package monitor

import (
	"context"
	"sync"
	"time"
)

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// logThrottle limits how often a repeating condition is logged per key.
type logThrottle struct {
	mu    sync.Mutex
	last  map[string]time.Time
	every time.Duration
	now   func() time.Time
}

func newLogThrottle(every time.Duration) *logThrottle {
	return &logThrottle{last: make(map[string]time.Time), every: every, now: time.Now}
}

func (c *logThrottle) Allow(key string) bool {
	if c.every <= 0 {
		return true
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < c.every {
		return false
	}
	c.last[key] = now
	return true
}
