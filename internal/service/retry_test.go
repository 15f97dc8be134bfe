package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
)

func TestBackoffFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{retryCount: -1, want: 120 * time.Second},
		{retryCount: 0, want: 120 * time.Second},
		{retryCount: 1, want: 120 * time.Second},
		{retryCount: 2, want: 240 * time.Second},
		{retryCount: 3, want: 480 * time.Second},
		{retryCount: 4, want: 600 * time.Second},
		{retryCount: 30, want: 600 * time.Second},
	}

	for _, tt := range tests {
		if got := BackoffFor(tt.retryCount); got != tt.want {
			t.Fatalf("BackoffFor(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestRetrySchedulerPublishesDelayed(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{}
	scheduler, err := NewRetryScheduler(publisher, nil)
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	alarm := newPendingAlarm("alarm-1")
	alarm.IsTest = true
	if err := scheduler.Schedule(context.Background(), alarm, 240*time.Second); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}

	delayed := publisher.delayedMessages()
	if len(delayed) != 1 {
		t.Fatalf("delayed = %d, want 1", len(delayed))
	}
	want := delayedMessage{msg: queue.DispatchMessage{AlarmID: "alarm-1", IsTest: true}, delay: 240 * time.Second}
	if delayed[0] != want {
		t.Fatalf("delayed = %+v, want %+v", delayed[0], want)
	}
}

func TestRetrySchedulerWrapsPublishError(t *testing.T) {
	t.Parallel()

	publishErr := errors.New("channel closed")
	scheduler, err := NewRetryScheduler(&fakePublisher{
		publishDelayedFn: func(ctx context.Context, msg queue.DispatchMessage, delay time.Duration) error {
			return publishErr
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	if err := scheduler.Schedule(context.Background(), newPendingAlarm("alarm-1"), time.Minute); !errors.Is(err, publishErr) {
		t.Fatalf("Schedule() error = %v, want %v", err, publishErr)
	}
}

func TestNewRetrySweeperValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRetrySweeper(nil, &fakePublisher{}, nil, SweepConfig{}, nil); err == nil {
		t.Fatal("NewRetrySweeper() expected error for nil repository")
	}
	if _, err := NewRetrySweeper(newMemAlarmRepo(), nil, nil, SweepConfig{}, nil); err == nil {
		t.Fatal("NewRetrySweeper() expected error for nil publisher")
	}
	if _, err := NewRetrySweeper(newMemAlarmRepo(), &fakePublisher{}, nil, SweepConfig{Schedule: "every tuesday"}, nil); err == nil {
		t.Fatal("NewRetrySweeper() expected error for invalid schedule")
	}

	s, err := NewRetrySweeper(newMemAlarmRepo(), &fakePublisher{}, nil, SweepConfig{}, nil)
	if err != nil {
		t.Fatalf("NewRetrySweeper() error = %v", err)
	}
	if s.cfg.Schedule != defaultSweepSchedule || s.cfg.Limit != defaultSweepLimit || s.cfg.MaxAge != defaultSweepMaxAge {
		t.Fatalf("cfg = %+v, want defaults", s.cfg)
	}
}

func sweepFixtureAlarms(now time.Time) []*domain.Alarm {
	lost := newPendingAlarm("pending-lost")
	lost.CreatedAt = now.Add(-10 * time.Minute)
	lost.Timestamp = lost.CreatedAt

	fresh := newPendingAlarm("pending-fresh")
	fresh.CreatedAt = now.Add(-10 * time.Second)
	fresh.Timestamp = fresh.CreatedAt

	lastDue := now.Add(-5 * time.Minute)
	nextDue := now.Add(-time.Minute)
	due := newPendingAlarm("error-due")
	due.Status = domain.StatusError
	due.AttemptCount = 1
	due.LastAttempt = &lastDue
	due.NextRetryAt = &nextDue

	nextLater := now.Add(3 * time.Minute)
	waiting := newPendingAlarm("error-waiting")
	waiting.Status = domain.StatusError
	waiting.AttemptCount = 2
	waiting.LastAttempt = &lastDue
	waiting.NextRetryAt = &nextLater

	exhausted := newPendingAlarm("error-exhausted")
	exhausted.Status = domain.StatusError
	exhausted.AttemptCount = domain.MaxRetries
	exhausted.LastAttempt = &lastDue

	accepted := newPendingAlarm("accepted")
	accepted.Status = domain.StatusAccepted
	accepted.AttemptCount = 1
	accepted.LastAttempt = &lastDue

	return []*domain.Alarm{lost, fresh, due, waiting, exhausted, accepted}
}

func TestSweepOncePublishesDueAlarms(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	repo := newMemAlarmRepo(sweepFixtureAlarms(clock.Now())...)
	publisher := &fakePublisher{}

	var limiterKeys []string
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, key string) error {
			limiterKeys = append(limiterKeys, key)
			return nil
		},
	}

	s, err := NewRetrySweeper(repo, publisher, limiter, SweepConfig{}, nil)
	if err != nil {
		t.Fatalf("NewRetrySweeper() error = %v", err)
	}
	s.now = clock.Now

	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("SweepOnce() = %d, want 2", count)
	}

	got := map[string]bool{}
	for _, msg := range publisher.publishedMessages() {
		got[msg.AlarmID] = true
	}
	if !got["pending-lost"] || !got["error-due"] || len(got) != 2 {
		t.Fatalf("published = %v, want pending-lost and error-due", got)
	}
	if len(limiterKeys) != 2 || limiterKeys[0] != sweepLimiterKey {
		t.Fatalf("limiter keys = %v", limiterKeys)
	}
}

func TestSweepOnceSkipsAlarmsThatFailToPublish(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	repo := newMemAlarmRepo(sweepFixtureAlarms(clock.Now())...)
	publisher := &fakePublisher{
		publishFn: func(ctx context.Context, msg queue.DispatchMessage) error {
			if msg.AlarmID == "pending-lost" {
				return errors.New("broker unavailable")
			}
			return nil
		},
	}

	s, err := NewRetrySweeper(repo, publisher, nil, SweepConfig{}, nil)
	if err != nil {
		t.Fatalf("NewRetrySweeper() error = %v", err)
	}
	s.now = clock.Now

	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("SweepOnce() = %d, want 1", count)
	}
}

func TestSweepOnceStopsWhenLimiterFails(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	repo := newMemAlarmRepo(sweepFixtureAlarms(clock.Now())...)
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, key string) error { return context.Canceled },
	}

	s, err := NewRetrySweeper(repo, &fakePublisher{}, limiter, SweepConfig{}, nil)
	if err != nil {
		t.Fatalf("NewRetrySweeper() error = %v", err)
	}
	s.now = clock.Now

	count, err := s.SweepOnce(context.Background())
	if !errors.Is(err, context.Canceled) || count != 0 {
		t.Fatalf("SweepOnce() = %d, %v; want 0, context.Canceled", count, err)
	}
}

func TestRetrySweeperStartStopsOnCancel(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	repo := newMemAlarmRepo(sweepFixtureAlarms(clock.Now())...)
	publisher := &fakePublisher{}

	s, err := NewRetrySweeper(repo, publisher, nil, SweepConfig{Schedule: "@every 1h"}, nil)
	if err != nil {
		t.Fatalf("NewRetrySweeper() error = %v", err)
	}
	s.now = clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for len(publisher.publishedMessages()) < 2 {
		select {
		case <-deadline:
			t.Fatal("initial sweep did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
