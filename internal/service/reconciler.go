package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/provider"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"go.uber.org/zap"
)

type ReconcileResult string

const (
	ReconcileApplied       ReconcileResult = "applied"
	ReconcileDuplicate     ReconcileResult = "duplicate"
	ReconcileStale         ReconcileResult = "stale"
	ReconcileUnknownStatus ReconcileResult = "unknown_status"
	ReconcileNotFound      ReconcileResult = "not_found"
	ReconcileLockBusy      ReconcileResult = "lock_busy"
	ReconcileInfraError    ReconcileResult = "infra_error"
)

// StatusUpdate is one provider delivery callback, already extracted from its payload shape.
type StatusUpdate struct {
	Source        provider.Source
	CorrelationID string
	RawStatus     string
	ErrorCode     string
	ErrorMessage  string
}

type ReconcileOutcome struct {
	AlarmID  string
	Result   ReconcileResult
	Previous domain.NotificationStatus
	Status   domain.NotificationStatus
	Err      error
}

// Reconciler advances alarm state from provider callbacks. Only forward progress is applied.
type Reconciler struct {
	alarms  repository.AlarmRepository
	policy  domain.LateDeliveryPolicy
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewReconciler(alarms repository.AlarmRepository, policy domain.LateDeliveryPolicy, logger *zap.Logger) (*Reconciler, error) {
	if alarms == nil {
		return nil, fmt.Errorf("alarm repository is required")
	}
	if policy == "" {
		policy = domain.LateDeliveryAccept
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("invalid late delivery policy %q", policy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		alarms: alarms,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *Reconciler) Reconcile(ctx context.Context, update StatusUpdate) ReconcileOutcome {
	outcome := r.reconcile(ctx, update)
	r.metrics.IncWebhookEvent(update.Source.String(), string(outcome.Result))
	return outcome
}

func (r *Reconciler) reconcile(ctx context.Context, update StatusUpdate) ReconcileOutcome {
	logger := r.logger.With(
		zap.String("source", update.Source.String()),
		zap.String("providerMessageId", update.CorrelationID),
		zap.String("providerStatus", update.RawStatus),
	)

	incoming, ok := StatusMapLookup(update.Source, update.RawStatus)
	if !ok {
		logger.Warn("ignoring unknown provider status")
		return ReconcileOutcome{Result: ReconcileUnknownStatus}
	}

	correlationID := strings.TrimSpace(update.CorrelationID)
	if correlationID == "" {
		logger.Warn("ignoring status callback without message id")
		return ReconcileOutcome{Result: ReconcileNotFound}
	}

	found, err := r.alarms.GetByCorrelationID(ctx, correlationID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Info("no alarm for provider message id")
		return ReconcileOutcome{Result: ReconcileNotFound}
	}
	if err != nil {
		logger.Error("failed to look up alarm by provider message id", zap.Error(err))
		return ReconcileOutcome{Result: ReconcileInfraError, Err: err}
	}

	outcome := ReconcileOutcome{AlarmID: found.ID}
	logger = logger.With(zap.String("alarmId", found.ID))

	err = r.alarms.WithAlarmLock(ctx, found.ID, repository.LockWait, func(ctx context.Context, tx repository.AlarmTx) error {
		alarm := tx.Alarm()
		outcome.Previous = alarm.Status
		outcome.Status = alarm.Status

		// The alarm may have been redispatched since the lookup.
		if alarm.CorrelationID == nil || *alarm.CorrelationID != correlationID {
			outcome.Result = ReconcileStale
			return nil
		}

		result := r.decide(alarm.Status, incoming)
		if result != ReconcileApplied {
			outcome.Result = result
			return nil
		}
		if err := alarm.TransitionTo(incoming); err != nil {
			logger.Info("status callback is not a valid transition",
				zap.String("from", alarm.Status.String()),
				zap.String("to", incoming.String()),
				zap.Error(err),
			)
			outcome.Result = ReconcileStale
			return nil
		}

		if outcome.Previous.IsFailure() && incoming == domain.StatusDelivered {
			logger.Warn("late delivery confirmation overrides failure",
				zap.String("from", outcome.Previous.String()),
			)
		}

		now := r.now().UTC()
		switch incoming {
		case domain.StatusFailed:
			alarm.SetError(formatProviderError(update.ErrorCode, update.ErrorMessage))
			alarm.NextRetryAt = nil
		case domain.StatusDelivered:
			alarm.SetError("")
			alarm.NextRetryAt = nil
		}
		alarm.UpdatedAt = now
		if err := tx.Save(ctx); err != nil {
			return err
		}

		r.mirrorAttempt(ctx, tx, correlationID, incoming, update, now, logger)

		outcome.Result = ReconcileApplied
		outcome.Status = alarm.Status
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrLockContention):
		logger.Warn("alarm lock busy, dropping status callback", zap.Error(err))
		outcome.Result = ReconcileLockBusy
		return outcome
	case errors.Is(err, domain.ErrNotFound):
		outcome.Result = ReconcileNotFound
		return outcome
	default:
		logger.Error("failed to reconcile status callback", zap.Error(err))
		outcome.Result = ReconcileInfraError
		outcome.Err = err
		return outcome
	}

	if outcome.Result == ReconcileApplied {
		logger.Info("alarm status reconciled",
			zap.String("from", outcome.Previous.String()),
			zap.String("to", outcome.Status.String()),
		)
	} else {
		logger.Debug("status callback not applied", zap.String("result", string(outcome.Result)))
	}
	return outcome
}

// decide applies the forward-progress order PENDING < PROCESSING < ACCEPTED < SENT < DELIVERED.
// FAILED and ERROR only yield to DELIVERED, and only under the accept policy.
func (r *Reconciler) decide(current, incoming domain.NotificationStatus) ReconcileResult {
	if current == incoming {
		return ReconcileDuplicate
	}
	if current == domain.StatusDelivered {
		return ReconcileStale
	}

	switch incoming {
	case domain.StatusDelivered:
		if current.IsFailure() && r.policy == domain.LateDeliveryReject {
			return ReconcileStale
		}
		return ReconcileApplied
	case domain.StatusFailed:
		switch current {
		case domain.StatusAccepted, domain.StatusSent, domain.StatusError:
			return ReconcileApplied
		}
		return ReconcileStale
	}

	if current.IsFailure() || incoming.Rank() <= current.Rank() {
		return ReconcileStale
	}
	return ReconcileApplied
}

// mirrorAttempt copies the callback status onto the attempt that produced the message id.
// Settled attempts reject backward moves such as SENT to FAILED; that is logged, not fatal.
func (r *Reconciler) mirrorAttempt(
	ctx context.Context,
	tx repository.AlarmTx,
	correlationID string,
	incoming domain.NotificationStatus,
	update StatusUpdate,
	now time.Time,
	logger *zap.Logger,
) {
	attempt, err := tx.LatestAttempt(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("failed to load latest attempt", zap.Error(err))
		}
		return
	}
	if attempt.CorrelationID == nil || *attempt.CorrelationID != correlationID {
		return
	}

	if err := attempt.TransitionTo(incoming); err != nil {
		logger.Warn("attempt status not updated",
			zap.String("attemptId", attempt.ID),
			zap.String("from", attempt.Status.String()),
			zap.String("to", incoming.String()),
			zap.Error(err),
		)
		return
	}
	if incoming == domain.StatusFailed {
		message := formatProviderError(update.ErrorCode, update.ErrorMessage)
		if message != "" {
			attempt.ErrorMessage = &message
		}
	}
	attempt.UpdatedAt = now

	if err := tx.SaveAttempt(ctx, attempt); err != nil {
		logger.Warn("failed to save attempt status", zap.String("attemptId", attempt.ID), zap.Error(err))
	}
}

// StatusMapLookup maps a raw provider status for a callback source.
func StatusMapLookup(source provider.Source, raw string) (domain.NotificationStatus, bool) {
	table := provider.StatusMapFor(source)
	if table == nil {
		return "", false
	}
	return table.Lookup(raw)
}

func formatProviderError(code, message string) string {
	code = strings.TrimSpace(code)
	message = strings.TrimSpace(message)
	if code == "" && message == "" {
		return ""
	}
	return fmt.Sprintf("Code: %s, Message: %s", code, message)
}
