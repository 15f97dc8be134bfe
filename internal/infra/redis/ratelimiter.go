package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerSec int64 = 10
	window                   = time.Second
	minRetryWait             = 10 * time.Millisecond
)

// sendWindowScript counts a send in the current window. It returns 0 when the send fits
// and otherwise the milliseconds left until the window rolls over.
var sendWindowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current <= tonumber(ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
  return tonumber(ARGV[2])
end
return ttl
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps provider sends per channel per second across every worker process.
// Channels without an explicit budget share the default.
type RedisRateLimiter struct {
	client       *goredis.Client
	defaultLimit int64
	limits       map[string]int64
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int, channelLimits map[domain.Channel]int) (*RedisRateLimiter, error) {
	l, err := newRedisRateLimiter(client, int64(limitPerSec), time.Now, sleepWithContext)
	if err != nil {
		return nil, err
	}
	for channel, perSec := range channelLimits {
		if perSec > 0 {
			l.limits[limiterChannel(channel.String())] = int64(perSec)
		}
	}
	return l, nil
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultSendsPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:       client,
		defaultLimit: limitPerSec,
		limits:       make(map[string]int64),
		now:          nowFn,
		sleep:        sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	wait, err := r.reserve(ctx, channel)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// Wait blocks until the channel has budget in the current window or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel string) error {
	for {
		wait, err := r.reserve(ctx, channel)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, max(wait, minRetryWait)); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, channel string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	name := limiterChannel(channel)
	if name == "" {
		return 0, fmt.Errorf("channel is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := fmt.Sprintf("alarm:ratelimit:%s:%d", name, r.now().UTC().Unix())
	ms, err := sendWindowScript.Run(ctx, r.client, []string{key}, r.limitFor(name), window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate send budget for %s: %w", name, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (r *RedisRateLimiter) limitFor(channel string) int64 {
	if limit, ok := r.limits[channel]; ok {
		return limit
	}
	return r.defaultLimit
}

func limiterChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
