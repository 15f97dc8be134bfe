package domain

import (
	"fmt"
	"time"
)

// NotificationAttempt records a single provider call made for an alarm.
type NotificationAttempt struct {
	ID               string
	AlarmID          string
	RecipientID      string
	Channel          Channel
	Status           NotificationStatus
	CorrelationID    *string
	SentAt           *time.Time
	ErrorMessage     *string
	RetryCount       int
	ProviderResponse []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (a *NotificationAttempt) Validate() error {
	if a.AlarmID == "" {
		return fmt.Errorf("%w: alarmId is required", ErrValidation)
	}
	if !a.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", ErrValidation, a.Channel)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, a.Status)
	}
	if a.RetryCount < 0 || a.RetryCount > MaxRetries {
		return fmt.Errorf("%w: retryCount %d outside [0, %d]", ErrValidation, a.RetryCount, MaxRetries)
	}
	return nil
}

// TransitionTo applies a forward-only status change. Moving a settled attempt
// (for example SENT -> FAILED) returns ErrTerminalState.
func (a *NotificationAttempt) TransitionTo(next NotificationStatus) error {
	if a.Status == next {
		return nil
	}
	if err := ValidateAttemptTransition(a.Status, next); err != nil {
		return err
	}
	a.Status = next
	return nil
}
