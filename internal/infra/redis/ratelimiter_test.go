package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllow(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(rdb, 2, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	want := []bool{true, true, false}
	for i, expected := range want {
		allowed, err := limiter.Allow(context.Background(), "TWILIO_SMS")
		if err != nil {
			t.Fatalf("Allow() call %d error = %v", i+1, err)
		}
		if allowed != expected {
			t.Fatalf("Allow() call %d = %v, want %v", i+1, allowed, expected)
		}
	}

	now = now.Add(time.Second)
	allowed, err := limiter.Allow(context.Background(), "TWILIO_SMS")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("next window should allow the send")
	}

	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty channel")
	}
}

func TestRedisRateLimiterBudgetsArePerChannel(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	limiter, err := NewRedisRateLimiter(rdb, 1, map[domain.Channel]int{
		domain.ChannelMetaWhatsApp: 3,
		domain.ChannelConsole:      0,
	})
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}
	now := time.Unix(1_700_000_100, 0)
	limiter.now = func() time.Time { return now }

	tests := []struct {
		channel string
		want    bool
	}{
		{channel: "TWILIO_SMS", want: true},
		{channel: "twilio_sms", want: false},
		{channel: "META_WHATSAPP", want: true},
		{channel: "META_WHATSAPP", want: true},
		{channel: "META_WHATSAPP", want: true},
		{channel: "META_WHATSAPP", want: false},
		{channel: "CONSOLE", want: true},
		{channel: "CONSOLE", want: false},
	}

	for i, tt := range tests {
		allowed, err := limiter.Allow(context.Background(), tt.channel)
		if err != nil {
			t.Fatalf("call %d Allow(%s) error = %v", i+1, tt.channel, err)
		}
		if allowed != tt.want {
			t.Fatalf("call %d Allow(%s) = %v, want %v", i+1, tt.channel, allowed, tt.want)
		}
	}
}

func TestRedisRateLimiterWaitSleepsUntilWindowRolls(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_200, 0)
	var slept []time.Duration
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(time.Second)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "CONSOLE"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if len(slept) != 0 {
		t.Fatalf("first Wait() slept %v, want no sleep", slept)
	}

	if err := limiter.Wait(context.Background(), "CONSOLE"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("Wait() slept %d times, want 1", len(slept))
	}
	if slept[0] < minRetryWait || slept[0] > window {
		t.Fatalf("Wait() slept %s, want between %s and %s", slept[0], minRetryWait, window)
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	_, rdb := newTestRedis(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newRedisRateLimiter(rdb, 1, func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "TWILIO_WHATSAPP"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "TWILIO_WHATSAPP")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRedisRateLimiterReportsRedisFailure(t *testing.T) {
	t.Parallel()

	mr, rdb := newTestRedis(t)
	limiter, err := NewRedisRateLimiter(rdb, 1, nil)
	if err != nil {
		t.Fatalf("NewRedisRateLimiter() error = %v", err)
	}

	mr.Close()
	if _, err := limiter.Allow(context.Background(), "TWILIO_SMS"); err == nil {
		t.Fatal("Allow() expected error when redis is down")
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}
