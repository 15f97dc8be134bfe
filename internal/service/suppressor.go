package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultGatePollInterval = 50 * time.Millisecond
	defaultGatePollAttempts = 20
)

// TriggerGate gives one caller per source the right to create an alarm inside the window.
type TriggerGate interface {
	Claim(ctx context.Context, sourceID string, window time.Duration) (bool, error)
	Bind(ctx context.Context, sourceID, alarmID string, window time.Duration) error
	Resolve(ctx context.Context, sourceID string) (string, bool, error)
	Release(ctx context.Context, sourceID string) error
}

type TriggerRequest struct {
	SubjectID  string
	SourceID   string
	Location   *string
	IsTest     bool
	OccurredAt time.Time
}

type TriggerResult struct {
	Alarm   *domain.Alarm
	Created bool
}

// DuplicateSuppressor collapses repeated triggers on one source into a single alarm.
// The database lookup catches sequential repeats; the gate closes the race between
// simultaneous ones across API instances.
type DuplicateSuppressor struct {
	alarms       repository.AlarmRepository
	gate         TriggerGate
	window       time.Duration
	logger       *zap.Logger
	now          func() time.Time
	newID        func() string
	sleep        func(ctx context.Context, d time.Duration) error
	pollInterval time.Duration
	pollAttempts int
}

func NewDuplicateSuppressor(
	alarms repository.AlarmRepository,
	gate TriggerGate,
	window time.Duration,
	logger *zap.Logger,
) (*DuplicateSuppressor, error) {
	if alarms == nil {
		return nil, fmt.Errorf("alarm repository is required")
	}
	if window <= 0 {
		window = domain.DefaultDuplicateWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DuplicateSuppressor{
		alarms:       alarms,
		gate:         gate,
		window:       window,
		logger:       logger,
		now:          time.Now,
		newID:        uuid.NewString,
		sleep:        sleepContext,
		pollInterval: defaultGatePollInterval,
		pollAttempts: defaultGatePollAttempts,
	}, nil
}

// CreateOrGet returns the alarm already raised for the source inside the window, or creates one.
func (s *DuplicateSuppressor) CreateOrGet(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	sourceID := strings.TrimSpace(req.SourceID)
	now := s.now().UTC()
	occurredAt := req.OccurredAt.UTC()
	if req.OccurredAt.IsZero() {
		occurredAt = now
	}

	alarm := &domain.Alarm{
		SubjectID: strings.TrimSpace(req.SubjectID),
		SourceID:  sourceID,
		Timestamp: occurredAt,
		Location:  req.Location,
		IsTest:    req.IsTest,
		Status:    domain.StatusPending,
	}
	if err := alarm.Validate(); err != nil {
		return nil, err
	}

	if existing, err := s.findRecent(ctx, sourceID, occurredAt); err != nil || existing != nil {
		if existing != nil {
			return &TriggerResult{Alarm: existing}, nil
		}
		return nil, err
	}

	claimed := true
	if s.gate != nil {
		var err error
		claimed, err = s.gate.Claim(ctx, sourceID, s.window)
		if err != nil {
			s.logger.Warn("trigger gate unavailable, relying on database check only",
				zap.String("sourceId", sourceID),
				zap.Error(err),
			)
			claimed = true
		}
	}
	if !claimed {
		existing, err := s.awaitWinner(ctx, sourceID, occurredAt)
		if err != nil {
			return nil, err
		}
		return &TriggerResult{Alarm: existing}, nil
	}

	alarm.ID = s.newID()
	alarm.CreatedAt = now
	alarm.UpdatedAt = now
	if err := s.alarms.Create(ctx, alarm); err != nil {
		if s.gate != nil {
			if releaseErr := s.gate.Release(ctx, sourceID); releaseErr != nil {
				s.logger.Warn("failed to release trigger gate", zap.String("sourceId", sourceID), zap.Error(releaseErr))
			}
		}
		return nil, fmt.Errorf("failed to create alarm: %w", err)
	}

	if s.gate != nil {
		if err := s.gate.Bind(ctx, sourceID, alarm.ID, s.window); err != nil {
			s.logger.Warn("failed to bind trigger gate", zap.String("alarmId", alarm.ID), zap.Error(err))
		}
	}

	return &TriggerResult{Alarm: alarm, Created: true}, nil
}

func (s *DuplicateSuppressor) findRecent(ctx context.Context, sourceID string, occurredAt time.Time) (*domain.Alarm, error) {
	existing, err := s.alarms.FindRecentBySource(ctx, sourceID, occurredAt.Add(-s.window), occurredAt.Add(s.window))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up recent alarm: %w", err)
	}
	return existing, nil
}

// awaitWinner waits for the concurrent claim holder to bind its alarm.
func (s *DuplicateSuppressor) awaitWinner(ctx context.Context, sourceID string, occurredAt time.Time) (*domain.Alarm, error) {
	for i := 0; i < s.pollAttempts; i++ {
		alarmID, ok, err := s.gate.Resolve(ctx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve trigger gate: %w", err)
		}
		if ok {
			return s.alarms.GetByID(ctx, alarmID)
		}

		if existing, err := s.findRecent(ctx, sourceID, occurredAt); err != nil || existing != nil {
			return existing, err
		}

		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: trigger for source %s is already being processed", domain.ErrConflict, sourceID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
