package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kursadbilgin/alarm-dispatch/internal/config"
	"github.com/kursadbilgin/alarm-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"github.com/kursadbilgin/alarm-dispatch/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type backendOpener func(envFile string) (*backend, error)

// backend holds the database handle and lazily dialed broker used by every subcommand.
type backend struct {
	db        *gorm.DB
	sweep     service.SweepConfig
	logger    *zap.Logger
	dialQueue func() (queue.Publisher, error)

	publisher queue.Publisher
	closers   []func() error
}

func (b *backend) channelSettings() (*service.ChannelSettings, error) {
	return service.NewChannelSettings(repository.NewGormSettingRepo(b.db), b.logger)
}

func (b *backend) contacts() repository.ContactRepository {
	return repository.NewGormContactRepo(b.db)
}

func (b *backend) alarmService(withQueue bool) (*service.AlarmService, error) {
	var publisher queue.Publisher = noQueue{}
	if withQueue {
		p, err := b.queue()
		if err != nil {
			return nil, err
		}
		publisher = p
	}
	return service.NewAlarmService(nil, repository.NewGormAlarmRepo(b.db), repository.NewGormAttemptRepo(b.db), publisher, b.logger)
}

func (b *backend) sweeper() (*service.RetrySweeper, error) {
	publisher, err := b.queue()
	if err != nil {
		return nil, err
	}
	return service.NewRetrySweeper(repository.NewGormAlarmRepo(b.db), publisher, nil, b.sweep, b.logger)
}

func (b *backend) queue() (queue.Publisher, error) {
	if b.publisher != nil {
		return b.publisher, nil
	}
	if b.dialQueue == nil {
		return nil, errors.New("message broker is not configured")
	}
	p, err := b.dialQueue()
	if err != nil {
		return nil, err
	}
	b.publisher = p
	b.closers = append(b.closers, p.Close)
	return p, nil
}

func (b *backend) close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// noQueue backs read-only commands that never enqueue.
type noQueue struct{}

func (noQueue) Publish(ctx context.Context, msg queue.DispatchMessage) error {
	return errors.New("message broker is not available for this command")
}

func (noQueue) PublishDelayed(ctx context.Context, msg queue.DispatchMessage, delay time.Duration) error {
	return errors.New("message broker is not available for this command")
}

func (noQueue) Close() error { return nil }

func openBackend(envFile string) (*backend, error) {
	if err := loadEnv(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	return &backend{
		db:     db,
		logger: logger,
		sweep: service.SweepConfig{
			Schedule: cfg.SweepSchedule,
			Limit:    cfg.SweepBatchSize,
			MaxAge:   cfg.SweepMaxAge(),
		},
		dialQueue: func() (queue.Publisher, error) {
			mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
			if err != nil {
				return nil, err
			}
			return queue.NewRabbitMQPublisher(mq), nil
		},
		closers: []func() error{sqlDB.Close},
	}, nil
}

func loadEnv(envFile string) error {
	path := strings.TrimSpace(envFile)
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

type commandContext struct {
	envFlag *string
	open    backendOpener
}

func newCommandContext(envFlag *string, open backendOpener) *commandContext {
	return &commandContext{envFlag: envFlag, open: open}
}

// withBackend opens the backend for one command and closes it afterwards.
func (c *commandContext) withBackend(fn func(b *backend) error) (err error) {
	var envFile string
	if c.envFlag != nil {
		envFile = *c.envFlag
	}

	b, err := c.open(envFile)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := b.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	return fn(b)
}
