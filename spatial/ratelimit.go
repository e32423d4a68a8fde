package spatial

import (
	"context"
	"log"
	"sync"
	"time"
)

// APIRateLimiter spaces out calls to the same external API
type APIRateLimiter struct {
	mu          sync.Mutex
	lastCall    map[string]time.Time
	minInterval time.Duration
}

// NewRateLimiter returns a limiter allowing one call per API every minInterval
func NewRateLimiter(minInterval time.Duration) *APIRateLimiter {
	return &APIRateLimiter{
		lastCall:    make(map[string]time.Time),
		minInterval: minInterval,
	}
}

// Wait blocks until apiName may be called again, or ctx is done
func (l *APIRateLimiter) Wait(ctx context.Context, apiName string) error {
	if l == nil || l.minInterval <= 0 {
		return nil
	}

	l.mu.Lock()
	var wait time.Duration
	now := time.Now()
	next := now
	if last, ok := l.lastCall[apiName]; ok {
		if elapsed := now.Sub(last); elapsed < l.minInterval {
			wait = l.minInterval - elapsed
			next = now.Add(wait)
		}
	}
	// reserve the slot before releasing the lock
	l.lastCall[apiName] = next
	l.mu.Unlock()

	if wait == 0 {
		return nil
	}

	log.Printf("[ratelimit] %s: waiting %.1fs", apiName, wait.Seconds())
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
