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
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/alarm-dispatch/internal/config"
	"github.com/kursadbilgin/alarm-dispatch/internal/handler"
	"github.com/kursadbilgin/alarm-dispatch/internal/infra/postgresql"
	"github.com/kursadbilgin/alarm-dispatch/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/alarm-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"github.com/kursadbilgin/alarm-dispatch/internal/service"
	"github.com/kursadbilgin/alarm-dispatch/internal/transport"
	"go.uber.org/zap"
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

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
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

	gate, err := infraredis.NewTriggerGate(rdb)
	if err != nil {
		logger.Fatal("trigger gate initialization failed", zap.Error(err))
	}

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	publisher := queue.NewRabbitMQPublisher(mq)
	defer publisher.Close()

	metrics := observability.NewMetrics()

	alarmRepo := repository.NewGormAlarmRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	channels, err := service.NewChannelSettings(repository.NewGormSettingRepo(db), logger)
	if err != nil {
		logger.Fatal("channel settings initialization failed", zap.Error(err))
	}

	suppressor, err := service.NewDuplicateSuppressor(alarmRepo, gate, cfg.DuplicateWindow(), logger)
	if err != nil {
		logger.Fatal("duplicate suppressor initialization failed", zap.Error(err))
	}

	alarmService, err := service.NewAlarmService(suppressor, alarmRepo, attemptRepo, publisher, logger)
	if err != nil {
		logger.Fatal("alarm service initialization failed", zap.Error(err))
	}
	alarmService.SetMetrics(metrics)

	reconciler, err := service.NewReconciler(alarmRepo, cfg.Policy(), logger)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}
	reconciler.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "alarm-dispatch-api",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, map[string]handler.Pinger{
		"postgres": sqlDB,
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterAlarmRoutes(app, alarmService, channels); err != nil {
		logger.Fatal("alarm routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterWebhookRoutes(app, reconciler, cfg.WhatsAppVerifyToken, logger); err != nil {
		logger.Fatal("webhook routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()
	logger.Info("alarm-dispatch api started", zap.Int("port", cfg.APIPort))

	select {
	case err := <-listenErr:
		if err != nil {
			logger.Fatal("api server stopped", zap.Error(err))
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down api")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
}
