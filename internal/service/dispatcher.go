package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/observability"
	"github.com/kursadbilgin/alarm-dispatch/internal/provider"
	"github.com/kursadbilgin/alarm-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"go.uber.org/zap"
)

const persistTimeout = 10 * time.Second

// DispatchResult classifies what a dispatch call did.
type DispatchResult string

const (
	DispatchHandedOff      DispatchResult = "handed_off"
	DispatchRetryScheduled DispatchResult = "retry_scheduled"
	DispatchFailed         DispatchResult = "failed"
	DispatchInFlight       DispatchResult = "in_flight"
	DispatchSkipped        DispatchResult = "skipped"
	DispatchCooldown       DispatchResult = "cooldown"
	DispatchNotFound       DispatchResult = "not_found"
	DispatchInfraError     DispatchResult = "infra_error"
)

// Outcome is the structured result of one dispatch call. Err is set only for
// infrastructure failures that the caller may want to redeliver.
type Outcome struct {
	AlarmID       string
	Result        DispatchResult
	Status        domain.NotificationStatus
	Channel       domain.Channel
	CorrelationID string
	NextRetryAt   *time.Time
	Err           error
}

// ContactDirectory resolves the custodian address for a subject.
type ContactDirectory interface {
	GetBySubjectID(ctx context.Context, subjectID string) (*domain.Contact, error)
}

// ProviderResolver returns the provider serving a channel.
type ProviderResolver interface {
	Resolve(channel domain.Channel) (provider.ChannelProvider, error)
}

type retryScheduler interface {
	Schedule(ctx context.Context, alarm *domain.Alarm, delay time.Duration) error
}

// Dispatcher runs one delivery attempt for an alarm. It is safe to call repeatedly and
// concurrently for the same alarm: the non-blocking row lock, the status check and the
// cooldown make every redundant call a no-op.
type Dispatcher struct {
	alarms      repository.AlarmRepository
	contacts    ContactDirectory
	channels    ChannelSource
	providers   ProviderResolver
	rateLimiter ratelimit.RateLimiter
	retries     retryScheduler
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
	newID       func() string
}

func NewDispatcher(
	alarms repository.AlarmRepository,
	contacts ContactDirectory,
	channels ChannelSource,
	providers ProviderResolver,
	rateLimiter ratelimit.RateLimiter,
	retries *RetryScheduler,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if alarms == nil {
		return nil, fmt.Errorf("alarm repository is required")
	}
	if contacts == nil {
		return nil, fmt.Errorf("contact directory is required")
	}
	if channels == nil {
		return nil, fmt.Errorf("channel source is required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		alarms:      alarms,
		contacts:    contacts,
		channels:    channels,
		providers:   providers,
		rateLimiter: rateLimiter,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if retries != nil {
		d.retries = retries
	}
	return d, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch claims the alarm, calls the active channel provider outside the lock and
// persists the outcome together with a new attempt row.
func (d *Dispatcher) Dispatch(ctx context.Context, alarmID string, isTest bool) Outcome {
	ctx = observability.WithAlarmID(ctx, alarmID)
	logger := observability.WithContextLogger(d.logger, ctx)

	alarm, skip := d.claim(ctx, alarmID)
	if alarm == nil {
		if skip.Err != nil {
			logger.Error("dispatch claim failed", zap.Error(skip.Err))
		} else {
			logger.Debug("dispatch skipped", zap.String("result", string(skip.Result)), zap.String("status", skip.Status.String()))
		}
		return skip
	}
	if isTest && !alarm.IsTest {
		logger.Warn("dispatch requested as test for a real alarm, sending as real")
	}

	channel := d.channels.CurrentChannel(ctx)
	result, sendErr := d.send(ctx, alarm, channel)

	outcome, delay := d.persist(ctx, alarmID, channel, result, sendErr)
	outcome.AlarmID = alarmID
	outcome.Channel = channel

	if outcome.Err != nil {
		logger.Error("failed to persist dispatch outcome",
			zap.String("channel", channel.String()),
			zap.NamedError("sendError", sendErr),
			zap.Error(outcome.Err),
		)
		return outcome
	}

	d.metrics.IncDispatchOutcome(channel.String(), outcome.Status.String())
	if sendErr != nil {
		logger.Warn("dispatch attempt failed",
			zap.String("channel", channel.String()),
			zap.String("status", outcome.Status.String()),
			zap.Error(sendErr),
		)
	} else {
		logger.Info("dispatch handed off",
			zap.String("channel", channel.String()),
			zap.String("status", outcome.Status.String()),
			zap.String("providerMessageId", outcome.CorrelationID),
		)
	}

	if outcome.Result == DispatchRetryScheduled && d.retries != nil {
		claimed := *alarm
		claimed.Channel = &channel
		claimed.AttemptCount++
		if err := d.retries.Schedule(ctx, &claimed, delay); err != nil {
			logger.Warn("retry publish failed, sweep will pick the alarm up", zap.Error(err))
		}
	}

	return outcome
}

// claim moves a dispatchable alarm to PROCESSING under the non-blocking lock. A nil alarm
// means the returned Outcome explains why nothing was sent.
func (d *Dispatcher) claim(ctx context.Context, alarmID string) (*domain.Alarm, Outcome) {
	var claimed *domain.Alarm
	skip := Outcome{AlarmID: alarmID, Result: DispatchSkipped}

	err := d.alarms.WithAlarmLock(ctx, alarmID, repository.LockNoWait, func(ctx context.Context, tx repository.AlarmTx) error {
		alarm := tx.Alarm()
		now := d.now().UTC()
		skip.Status = alarm.Status

		switch {
		case alarm.Status != domain.StatusPending && alarm.Status != domain.StatusError:
			return nil
		case alarm.RetriesExhausted():
			return nil
		case alarm.InCooldown(now):
			skip.Result = DispatchCooldown
			return nil
		}

		if err := alarm.TransitionTo(domain.StatusProcessing); err != nil {
			return err
		}
		alarm.LastAttempt = &now
		alarm.NextRetryAt = nil
		// Callbacks for the previous message no longer describe this alarm.
		alarm.CorrelationID = nil
		alarm.UpdatedAt = now
		if err := tx.Save(ctx); err != nil {
			return err
		}

		snapshot := *alarm
		claimed = &snapshot
		return nil
	})

	switch {
	case err == nil:
		return claimed, skip
	case errors.Is(err, domain.ErrLockContention):
		skip.Result = DispatchInFlight
		return nil, skip
	case errors.Is(err, domain.ErrNotFound):
		skip.Result = DispatchNotFound
		return nil, skip
	default:
		skip.Result = DispatchInfraError
		skip.Err = err
		return nil, skip
	}
}

type sendAttempt struct {
	recipientID string
	result      *provider.Result
}

func (d *Dispatcher) send(ctx context.Context, alarm *domain.Alarm, channel domain.Channel) (sendAttempt, error) {
	var attempt sendAttempt

	contact, err := d.contacts.GetBySubjectID(ctx, alarm.SubjectID)
	if errors.Is(err, domain.ErrNotFound) {
		return attempt, fmt.Errorf("%w: no custodian contact for subject %s", domain.ErrValidation, alarm.SubjectID)
	}
	if err != nil {
		return attempt, fmt.Errorf("failed to resolve custodian contact: %w", err)
	}
	if err := contact.Validate(); err != nil {
		return attempt, err
	}
	attempt.recipientID = contact.CustodianID

	p, err := d.providers.Resolve(channel)
	if err != nil {
		return attempt, err
	}

	if d.rateLimiter != nil {
		if err := d.rateLimiter.Wait(ctx, channel.String()); err != nil {
			return attempt, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	message := ComposeMessage(alarm, contact)
	start := d.now()
	result, err := p.Send(ctx, provider.Recipient{ID: contact.CustodianID, Address: contact.PhoneNumber}, message)
	d.metrics.ObserveProviderSendDuration(channel.String(), d.now().Sub(start))
	if err != nil {
		return attempt, err
	}
	if result == nil {
		return attempt, &provider.ProviderError{Channel: channel, Message: "provider returned no result"}
	}

	attempt.result = result
	return attempt, nil
}

// persist records the attempt and the resulting alarm status. The provider call already
// happened, so it runs on a context detached from the caller's cancellation.
func (d *Dispatcher) persist(
	ctx context.Context,
	alarmID string,
	channel domain.Channel,
	sent sendAttempt,
	sendErr error,
) (Outcome, time.Duration) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	var outcome Outcome
	var delay time.Duration

	err := d.alarms.WithAlarmLock(persistCtx, alarmID, repository.LockWait, func(ctx context.Context, tx repository.AlarmTx) error {
		alarm := tx.Alarm()
		now := d.now().UTC()

		attempt := &domain.NotificationAttempt{
			ID:          d.newID(),
			RecipientID: sent.recipientID,
			Channel:     channel,
			RetryCount:  alarm.AttemptCount,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if alarm.Status != domain.StatusProcessing {
			d.logger.Warn("alarm left PROCESSING while the provider call was running",
				zap.String("alarmId", alarm.ID),
				zap.String("status", alarm.Status.String()),
			)
		}

		if sendErr == nil {
			next := domain.StatusSent
			if sent.result.AwaitsConfirmation {
				next = domain.StatusAccepted
			}

			attempt.Status = next
			attempt.SentAt = &now
			attempt.ProviderResponse = providerPayload(sent.result, nil)
			if id := strings.TrimSpace(sent.result.CorrelationID); id != "" {
				attempt.CorrelationID = &id
			}
			if err := tx.CreateAttempt(ctx, attempt); err != nil {
				return err
			}

			if alarm.Status == domain.StatusProcessing {
				if err := alarm.TransitionTo(next); err != nil {
					return err
				}
				alarm.CorrelationID = attempt.CorrelationID
				alarm.Channel = &channel
				alarm.SetError("")
				alarm.NextRetryAt = nil
			}

			outcome.Result = DispatchHandedOff
			if attempt.CorrelationID != nil {
				outcome.CorrelationID = *attempt.CorrelationID
			}
		} else {
			message := sendErr.Error()
			permanent := errors.Is(sendErr, domain.ErrValidation)

			attempt.Status = domain.StatusError
			if permanent {
				attempt.Status = domain.StatusFailed
			}
			attempt.ErrorMessage = &message
			attempt.ProviderResponse = providerPayload(nil, sendErr)
			if err := tx.CreateAttempt(ctx, attempt); err != nil {
				return err
			}

			outcome.Result = DispatchFailed
			if alarm.Status == domain.StatusProcessing {
				if err := alarm.TransitionTo(domain.StatusError); err != nil {
					return err
				}
				alarm.SetError(message)
				alarm.Channel = &channel

				if permanent || alarm.RetriesExhausted() {
					if err := alarm.TransitionTo(domain.StatusFailed); err != nil {
						return err
					}
					alarm.NextRetryAt = nil
				} else {
					delay = BackoffFor(alarm.AttemptCount)
					nextRetryAt := now.Add(delay)
					alarm.NextRetryAt = &nextRetryAt
					outcome.Result = DispatchRetryScheduled
					outcome.NextRetryAt = &nextRetryAt
				}
			}
		}

		alarm.UpdatedAt = now
		outcome.Status = alarm.Status
		return tx.Save(ctx)
	})
	if err != nil {
		return Outcome{Result: DispatchInfraError, Status: domain.StatusProcessing, Err: err}, 0
	}

	return outcome, delay
}

// providerPayload builds the JSON stored with the attempt for later inspection.
func providerPayload(result *provider.Result, sendErr error) []byte {
	payload := map[string]any{}
	if result != nil {
		payload["statusCode"] = result.StatusCode
		payload["rawStatus"] = result.RawStatus
		payload["messageId"] = result.CorrelationID
		if body := strings.TrimSpace(result.Body); body != "" {
			payload["body"] = body
		}
	}

	var providerErr *provider.ProviderError
	if errors.As(sendErr, &providerErr) {
		payload["statusCode"] = providerErr.StatusCode
		payload["errorCode"] = providerErr.Code
		payload["transient"] = providerErr.Transient
	}
	if sendErr != nil {
		payload["error"] = sendErr.Error()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return raw
}
