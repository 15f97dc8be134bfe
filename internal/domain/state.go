package domain

import "fmt"

// alarmTransitions lists every allowed alarm status change.
// ERROR/FAILED -> DELIVERED is the late delivery correction and is gated by policy at the caller.
// ACCEPTED/ERROR/FAILED -> PENDING is the operator reopen used by manual retry.
var alarmTransitions = map[NotificationStatus][]NotificationStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusAccepted, StatusSent, StatusError},
	StatusAccepted:   {StatusProcessing, StatusSent, StatusDelivered, StatusFailed, StatusPending},
	StatusSent:       {StatusDelivered, StatusFailed},
	StatusError:      {StatusProcessing, StatusFailed, StatusDelivered, StatusPending},
	StatusFailed:     {StatusDelivered, StatusPending},
	StatusDelivered:  {},
}

// attemptTransitions lists the allowed status changes of a single attempt row.
var attemptTransitions = map[NotificationStatus][]NotificationStatus{
	StatusPending:   {StatusAccepted, StatusSent, StatusError, StatusFailed},
	StatusAccepted:  {StatusSent, StatusDelivered, StatusFailed},
	StatusSent:      {StatusDelivered},
	StatusError:     {},
	StatusFailed:    {},
	StatusDelivered: {},
}

// CanTransitionAlarm reports whether an alarm may move from one status to another.
func CanTransitionAlarm(from NotificationStatus, to NotificationStatus) bool {
	return allowed(alarmTransitions, from, to)
}

// ValidateAlarmTransition returns ErrTerminalState when leaving DELIVERED and
// ErrInvalidTransition for any other move that is not allowed.
func ValidateAlarmTransition(from NotificationStatus, to NotificationStatus) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, to)
	}
	if allowed(alarmTransitions, from, to) {
		return nil
	}
	if from == StatusDelivered {
		return fmt.Errorf("%w: alarm %s -> %s", ErrTerminalState, from, to)
	}
	return fmt.Errorf("%w: alarm %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateAttemptTransition returns ErrTerminalState for any disallowed move out of a
// settled attempt (SENT, DELIVERED, FAILED, ERROR).
func ValidateAttemptTransition(from NotificationStatus, to NotificationStatus) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, to)
	}
	if allowed(attemptTransitions, from, to) {
		return nil
	}
	switch from {
	case StatusSent, StatusDelivered, StatusFailed, StatusError:
		return fmt.Errorf("%w: attempt %s -> %s", ErrTerminalState, from, to)
	}
	return fmt.Errorf("%w: attempt %s -> %s", ErrInvalidTransition, from, to)
}

func allowed(table map[NotificationStatus][]NotificationStatus, from NotificationStatus, to NotificationStatus) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}
