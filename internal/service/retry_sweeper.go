package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
	"github.com/kursadbilgin/alarm-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	defaultSweepSchedule = "@every 1m"
	defaultSweepLimit    = 100
	defaultSweepMaxAge   = 24 * time.Hour
	sweepLimiterKey      = "sweep"
)

type SweepConfig struct {
	Schedule string
	Limit    int
	MaxAge   time.Duration
}

// RetrySweeper periodically re-enqueues PENDING and ERROR alarms whose dispatch was lost
// or whose backoff has elapsed.
type RetrySweeper struct {
	alarms    repository.AlarmRepository
	publisher queue.Publisher
	limiter   ratelimit.RateLimiter
	cfg       SweepConfig
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewRetrySweeper(
	alarms repository.AlarmRepository,
	publisher queue.Publisher,
	limiter ratelimit.RateLimiter,
	cfg SweepConfig,
	logger *zap.Logger,
) (*RetrySweeper, error) {
	if alarms == nil {
		return nil, fmt.Errorf("alarm repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSweepSchedule
	}
	if cfg.Limit <= 0 {
		cfg.Limit = defaultSweepLimit
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultSweepMaxAge
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetrySweeper{
		alarms:    alarms,
		publisher: publisher,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *RetrySweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs one sweep immediately and then on the configured schedule until ctx is done.
func (s *RetrySweeper) Start(ctx context.Context) error {
	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("initial retry sweep failed", zap.Error(err))
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("retry sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule retry sweep: %w", err)
	}

	c.Start()
	s.logger.Info("retry sweeper started", zap.String("schedule", s.cfg.Schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// SweepOnce publishes every due alarm and returns how many were enqueued.
func (s *RetrySweeper) SweepOnce(ctx context.Context) (int, error) {
	due, err := s.alarms.ListDueForSweep(ctx, repository.SweepParams{
		Now:        s.now().UTC(),
		Cooldown:   domain.DispatchCooldown,
		MaxAge:     s.cfg.MaxAge,
		MaxRetries: domain.MaxRetries,
		Limit:      s.cfg.Limit,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list alarms due for sweep: %w", err)
	}

	published := 0
	for i := range due {
		alarm := due[i]
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, sweepLimiterKey); err != nil {
				return published, err
			}
		}

		msg := queue.DispatchMessage{AlarmID: alarm.ID, IsTest: alarm.IsTest}
		if err := s.publisher.Publish(ctx, msg); err != nil {
			s.logger.Error("failed to enqueue swept alarm",
				zap.String("alarmId", alarm.ID),
				zap.Error(err),
			)
			continue
		}
		published++
		s.metrics.IncSweepPublished()
	}

	if published > 0 {
		s.logger.Info("retry sweep enqueued alarms", zap.Int("count", published), zap.Int("due", len(due)))
	}
	return published, nil
}
