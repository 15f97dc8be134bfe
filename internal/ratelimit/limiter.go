package ratelimit

import "context"

// RateLimiter controls send throughput per key, usually a delivery channel.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
