package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

type dispatcher interface {
	Dispatch(ctx context.Context, alarmID string, isTest bool) Outcome
}

// DispatchWorker consumes the dispatch queue with a fixed pool of consumers.
type DispatchWorker struct {
	consumer    queue.Consumer
	dispatcher  dispatcher
	concurrency int
	metrics     *observability.Metrics
	logger      *zap.Logger
}

func NewDispatchWorker(consumer queue.Consumer, d *Dispatcher, concurrency int, logger *zap.Logger) (*DispatchWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		consumer:    consumer,
		dispatcher:  d,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start consumes until ctx is cancelled or a consumer fails.
func (w *DispatchWorker) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dispatch worker started", zap.Int("workerId", workerID))

			if err := w.consumer.Consume(groupCtx, queue.DispatchQueue, w.handle); err != nil {
				w.logger.Error("dispatch worker stopped with error", zap.Int("workerId", workerID), zap.Error(err))
				return err
			}

			w.logger.Info("dispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// handle returns an error only for infrastructure failures so the message is redelivered.
func (w *DispatchWorker) handle(ctx context.Context, msg queue.DispatchMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	w.metrics.IncWorkerInFlight()
	defer w.metrics.DecWorkerInFlight()

	outcome := w.dispatcher.Dispatch(ctx, msg.AlarmID, msg.IsTest)
	if outcome.Err != nil {
		return fmt.Errorf("dispatch %s: %w", msg.AlarmID, outcome.Err)
	}
	return nil
}
