package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/alarm-dispatch/internal/config"
	"github.com/kursadbilgin/alarm-dispatch/internal/handler"
	"github.com/kursadbilgin/alarm-dispatch/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/alarm-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/provider"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
	"github.com/kursadbilgin/alarm-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"github.com/kursadbilgin/alarm-dispatch/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("failed to read .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, postgresql.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	metrics := observability.NewMetrics()

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("provider initialization failed", zap.Error(err))
	}
	logger.Info("providers registered", zap.Any("channels", registry.Channels()))

	channelLimits, err := cfg.ChannelRateLimits()
	if err != nil {
		logger.Fatal("invalid channel rate limits", zap.Error(err))
	}
	sendLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, channelLimits)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	publisher := queue.NewRabbitMQPublisher(mq)
	retries, err := service.NewRetryScheduler(publisher, logger)
	if err != nil {
		logger.Fatal("retry scheduler initialization failed", zap.Error(err))
	}
	retries.SetMetrics(metrics)

	alarmRepo := repository.NewGormAlarmRepo(db)
	channels, err := service.NewChannelSettings(repository.NewGormSettingRepo(db), logger)
	if err != nil {
		logger.Fatal("channel settings initialization failed", zap.Error(err))
	}

	dispatcher, err := service.NewDispatcher(
		alarmRepo,
		repository.NewGormContactRepo(db),
		channels,
		registry,
		sendLimiter,
		retries,
		logger,
	)
	if err != nil {
		logger.Fatal("dispatcher initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	consumer := queue.NewRabbitMQConsumer(mq, cfg.ConsumerPrefetch, logger)
	worker, err := service.NewDispatchWorker(consumer, dispatcher, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("dispatch worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	sweeper, err := service.NewRetrySweeper(
		alarmRepo,
		publisher,
		ratelimit.NewLocalRateLimiter(cfg.SweepPublishPerSec),
		service.SweepConfig{
			Schedule: cfg.SweepSchedule,
			Limit:    cfg.SweepBatchSize,
			MaxAge:   cfg.SweepMaxAge(),
		},
		logger,
	)
	if err != nil {
		logger.Fatal("retry sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "alarm-dispatch-worker",
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(app, map[string]handler.Pinger{
		"postgres": sqlDB,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return sweeper.Start(groupCtx)
	})
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("alarm-dispatch worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
	)

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("worker stopped")
}

// buildRegistry registers the console channel unconditionally and the remote providers
// whose credentials are present.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry(provider.NewConsoleProvider(logger))

	if cfg.MetaWhatsAppEnabled() {
		meta, err := provider.NewMetaWhatsAppProvider(provider.MetaWhatsAppConfig{
			BaseURL:          cfg.WhatsAppBaseURL,
			APIVersion:       cfg.WhatsAppAPIVersion,
			PhoneNumberID:    cfg.WhatsAppPhoneNumberID,
			AccessToken:      cfg.WhatsAppAccessToken,
			TemplateName:     cfg.WhatsAppTemplateName,
			TemplateLanguage: cfg.WhatsAppTemplateLanguage,
			Timeout:          cfg.ProviderTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("meta whatsapp provider: %w", err)
		}
		registry.Register(meta)
	}

	if cfg.TwilioEnabled() {
		base := provider.TwilioConfig{
			BaseURL:           cfg.TwilioBaseURL,
			AccountSID:        cfg.TwilioAccountSID,
			AuthToken:         cfg.TwilioAuthToken,
			StatusCallbackURL: cfg.TwilioStatusCallbackURL,
			Timeout:           cfg.ProviderTimeout(),
		}

		if cfg.TwilioSMSFrom != "" {
			smsCfg := base
			smsCfg.From = cfg.TwilioSMSFrom
			sms, err := provider.NewTwilioSMSProvider(smsCfg)
			if err != nil {
				return nil, fmt.Errorf("twilio sms provider: %w", err)
			}
			registry.Register(sms)
		}

		if cfg.TwilioWhatsAppFrom != "" {
			waCfg := base
			waCfg.From = cfg.TwilioWhatsAppFrom
			wa, err := provider.NewTwilioWhatsAppProvider(waCfg)
			if err != nil {
				return nil, fmt.Errorf("twilio whatsapp provider: %w", err)
			}
			registry.Register(wa)
		}
	}

	return registry, nil
}
