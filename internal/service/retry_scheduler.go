package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
	"go.uber.org/zap"
)

// BackoffFor returns the wait before the next attempt after retryCount failed attempts:
// 2^retryCount x RetryBackoffBase, clamped to [RetryBackoffFloor, RetryBackoffCeiling].
func BackoffFor(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}

	delay := domain.RetryBackoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= domain.RetryBackoffCeiling {
			return domain.RetryBackoffCeiling
		}
	}

	if delay < domain.RetryBackoffFloor {
		return domain.RetryBackoffFloor
	}
	return delay
}

// RetryScheduler hands a failed alarm back to the task queue once its backoff elapses.
// The alarm row already carries next_retry_at, so a lost message is recovered by the sweep.
type RetryScheduler struct {
	publisher queue.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

func NewRetryScheduler(publisher queue.Publisher, logger *zap.Logger) (*RetryScheduler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryScheduler{publisher: publisher, logger: logger}, nil
}

func (s *RetryScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScheduler) Schedule(ctx context.Context, alarm *domain.Alarm, delay time.Duration) error {
	msg := queue.DispatchMessage{AlarmID: alarm.ID, IsTest: alarm.IsTest}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}

	if err := s.publisher.PublishDelayed(ctx, msg, delay); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	channel := ""
	if alarm.Channel != nil {
		channel = alarm.Channel.String()
	}
	s.metrics.IncRetryScheduled(channel)
	s.logger.Info("retry scheduled",
		zap.String("alarmId", alarm.ID),
		zap.Int("attemptCount", alarm.AttemptCount),
		zap.Duration("delay", delay),
	)
	return nil
}
