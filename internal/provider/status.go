package provider

import (
	"strings"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
)

// Source identifies which provider posted a delivery callback.
type Source string

const (
	SourceTwilio Source = "twilio"
	SourceMeta   Source = "meta"
)

func (s Source) String() string { return string(s) }

// StatusMap translates provider callback statuses into domain statuses.
type StatusMap map[string]domain.NotificationStatus

var twilioStatuses = StatusMap{
	"queued":      domain.StatusPending,
	"accepted":    domain.StatusAccepted,
	"scheduled":   domain.StatusAccepted,
	"sending":     domain.StatusProcessing,
	"sent":        domain.StatusSent,
	"delivered":   domain.StatusDelivered,
	"read":        domain.StatusDelivered,
	"undelivered": domain.StatusFailed,
	"failed":      domain.StatusFailed,
	"canceled":    domain.StatusFailed,
}

var metaStatuses = StatusMap{
	"sent":      domain.StatusSent,
	"delivered": domain.StatusDelivered,
	"read":      domain.StatusDelivered,
	"failed":    domain.StatusFailed,
}

// StatusMapFor returns the lookup table for a callback source.
func StatusMapFor(source Source) StatusMap {
	switch source {
	case SourceTwilio:
		return twilioStatuses
	case SourceMeta:
		return metaStatuses
	}
	return nil
}

func (m StatusMap) Lookup(raw string) (domain.NotificationStatus, bool) {
	status, ok := m[strings.ToLower(strings.TrimSpace(raw))]
	return status, ok
}
