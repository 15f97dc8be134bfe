package domain

import (
	"fmt"
	"strings"
)

// NotificationStatus is the delivery lifecycle state shared by alarms and attempts.
type NotificationStatus string

const (
	StatusPending    NotificationStatus = "PENDING"
	StatusProcessing NotificationStatus = "PROCESSING"
	StatusAccepted   NotificationStatus = "ACCEPTED"
	StatusSent       NotificationStatus = "SENT"
	StatusDelivered  NotificationStatus = "DELIVERED"
	StatusFailed     NotificationStatus = "FAILED"
	StatusError      NotificationStatus = "ERROR"
)

func (s NotificationStatus) String() string { return string(s) }

func (s NotificationStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusAccepted, StatusSent, StatusDelivered, StatusFailed, StatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition is expected.
func (s NotificationStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// IsFailure reports FAILED and ERROR, the provisionally terminal states.
func (s NotificationStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusError
}

// Rank orders the progress states PENDING < PROCESSING < ACCEPTED < SENT < DELIVERED.
// Failure states have no rank and return -1.
func (s NotificationStatus) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusAccepted:
		return 2
	case StatusSent:
		return 3
	case StatusDelivered:
		return 4
	}
	return -1
}

// HandedOff reports whether the provider has taken the message.
func (s NotificationStatus) HandedOff() bool {
	return s == StatusAccepted || s == StatusSent || s == StatusDelivered
}

func ParseStatusFromString(s string) (NotificationStatus, error) {
	st := NotificationStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}
