package ratelimit

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token bucket per key. Used where only one process
// produces the traffic, such as the retry sweep publisher.
type LocalRateLimiter struct {
	mu       sync.Mutex
	perSec   int
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(perSec int) *LocalRateLimiter {
	if perSec < 1 {
		perSec = 1
	}
	return &LocalRateLimiter{
		perSec:   perSec,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	return l.limiter(key).Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, key string) error {
	return l.limiter(key).Wait(ctx)
}

func (l *LocalRateLimiter) limiter(key string) *rate.Limiter {
	key = strings.ToLower(strings.TrimSpace(key))

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.perSec), l.perSec)
		l.limiters[key] = lim
	}
	return lim
}
