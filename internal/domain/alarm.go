package domain

import (
	"fmt"
	"strings"
	"time"
)

// Alarm is a triggered alert that requires custodian notification.
type Alarm struct {
	ID                string
	SubjectID         string
	SourceID          string
	Timestamp         time.Time
	Location          *string
	IsTest            bool
	Status            NotificationStatus
	NotificationSent  bool
	NotificationError *string
	AttemptCount      int
	LastAttempt       *time.Time
	NextRetryAt       *time.Time
	CorrelationID     *string
	Channel           *Channel
	ResolvedAt        *time.Time
	ResolutionNotes   *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (a *Alarm) Validate() error {
	if strings.TrimSpace(a.SubjectID) == "" {
		return fmt.Errorf("%w: subjectId is required", ErrValidation)
	}
	if strings.TrimSpace(a.SourceID) == "" {
		return fmt.Errorf("%w: sourceId is required", ErrValidation)
	}
	if a.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if a.Status != "" && !a.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, a.Status)
	}
	return nil
}

// TransitionTo moves the alarm through the state machine and keeps NotificationSent in sync.
func (a *Alarm) TransitionTo(next NotificationStatus) error {
	if err := ValidateAlarmTransition(a.Status, next); err != nil {
		return err
	}
	a.Status = next
	a.NotificationSent = next.HandedOff()
	return nil
}

// InCooldown reports whether the last dispatch attempt is younger than DispatchCooldown.
func (a *Alarm) InCooldown(now time.Time) bool {
	if a.LastAttempt == nil {
		return false
	}
	return now.Sub(*a.LastAttempt) < DispatchCooldown
}

func (a *Alarm) RetriesExhausted() bool {
	return a.AttemptCount >= MaxRetries
}

func (a *Alarm) SetError(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		a.NotificationError = nil
		return
	}
	a.NotificationError = &trimmed
}
