package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"go.uber.org/zap"
)

// AlarmView is the read-only status of an alarm with its attempt history.
type AlarmView struct {
	Alarm    domain.Alarm
	Attempts []domain.NotificationAttempt
}

// AlarmService is the operator-facing side of the engine: trigger intake, status and manual retry.
type AlarmService struct {
	suppressor *DuplicateSuppressor
	alarms     repository.AlarmRepository
	attempts   repository.AttemptRepository
	publisher  queue.Publisher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewAlarmService(
	suppressor *DuplicateSuppressor,
	alarms repository.AlarmRepository,
	attempts repository.AttemptRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*AlarmService, error) {
	if alarms == nil {
		return nil, fmt.Errorf("alarm repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlarmService{
		suppressor: suppressor,
		alarms:     alarms,
		attempts:   attempts,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (s *AlarmService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Trigger records an alarm for the event and enqueues its first dispatch. A repeated trigger
// inside the duplicate window returns the existing alarm without enqueueing again.
func (s *AlarmService) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if s.suppressor == nil {
		return nil, fmt.Errorf("duplicate suppressor is not configured")
	}

	result, err := s.suppressor.CreateOrGet(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.IncAlarmTriggered(!result.Created)

	logger := observability.WithContextLogger(s.logger, observability.WithAlarmID(ctx, result.Alarm.ID))
	if !result.Created {
		logger.Info("duplicate trigger suppressed", zap.String("sourceId", result.Alarm.SourceID))
		return result, nil
	}

	if err := s.enqueue(ctx, result.Alarm, 0); err != nil {
		// The alarm is PENDING; the retry sweep dispatches it after the cooldown.
		logger.Error("failed to enqueue dispatch for new alarm", zap.Error(err))
	} else {
		logger.Info("alarm created", zap.String("sourceId", result.Alarm.SourceID), zap.Bool("isTest", result.Alarm.IsTest))
	}
	return result, nil
}

func (s *AlarmService) Get(ctx context.Context, id string) (*AlarmView, error) {
	alarm, err := s.alarms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByAlarmID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return &AlarmView{Alarm: *alarm, Attempts: attempts}, nil
}

// Retry reopens an alarm for dispatch. It is refused while the alarm is in flight, once the
// message has been sent or delivered, and when the attempt budget is spent.
func (s *AlarmService) Retry(ctx context.Context, id string) (*domain.Alarm, error) {
	var reopened *domain.Alarm
	var delay time.Duration

	err := s.alarms.WithAlarmLock(ctx, id, repository.LockNoWait, func(ctx context.Context, tx repository.AlarmTx) error {
		alarm := tx.Alarm()
		switch alarm.Status {
		case domain.StatusSent, domain.StatusDelivered, domain.StatusProcessing:
			return fmt.Errorf("%w: alarm is %s", domain.ErrConflict, alarm.Status)
		}
		if alarm.RetriesExhausted() {
			return fmt.Errorf("%w: alarm used all %d attempts", domain.ErrConflict, domain.MaxRetries)
		}

		now := s.now().UTC()
		if alarm.Status != domain.StatusPending {
			if err := alarm.TransitionTo(domain.StatusPending); err != nil {
				return err
			}
		}
		alarm.NextRetryAt = nil
		alarm.UpdatedAt = now
		if err := tx.Save(ctx); err != nil {
			return err
		}

		if alarm.LastAttempt != nil {
			if remaining := alarm.LastAttempt.Add(domain.DispatchCooldown).Sub(now); remaining > 0 {
				delay = remaining
			}
		}
		snapshot := *alarm
		reopened = &snapshot
		return nil
	})
	if errors.Is(err, domain.ErrLockContention) {
		return nil, fmt.Errorf("%w: alarm is being processed", domain.ErrConflict)
	}
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, reopened, delay); err != nil {
		s.logger.Error("failed to enqueue manual retry", zap.String("alarmId", id), zap.Error(err))
		return nil, fmt.Errorf("failed to enqueue retry: %w", err)
	}

	s.logger.Info("manual retry queued", zap.String("alarmId", id), zap.Duration("delay", delay))
	return reopened, nil
}

func (s *AlarmService) enqueue(ctx context.Context, alarm *domain.Alarm, delay time.Duration) error {
	msg := queue.DispatchMessage{AlarmID: alarm.ID, IsTest: alarm.IsTest}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		msg.CorrelationID = correlationID
	}
	if delay > 0 {
		return s.publisher.PublishDelayed(ctx, msg, delay)
	}
	return s.publisher.Publish(ctx, msg)
}
