package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrLockContention means another worker holds the alarm row lock.
	ErrLockContention = errors.New("alarm lock is held by another worker")

	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrTerminalState is returned when a write tries to move a record out of a settled state.
	ErrTerminalState = errors.New("terminal state violation")
)
