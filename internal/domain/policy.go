package domain

import "time"

const (
	// MaxRetries is the number of send attempts allowed per alarm.
	MaxRetries = 3

	// DispatchCooldown is the minimum time between two dispatch attempts of one alarm.
	DispatchCooldown = 120 * time.Second

	RetryBackoffBase    = 60 * time.Second
	RetryBackoffFloor   = 120 * time.Second
	RetryBackoffCeiling = 600 * time.Second

	DefaultDuplicateWindow = 5 * time.Second
)

// LateDeliveryPolicy decides whether DELIVERED may replace a FAILED/ERROR alarm status.
type LateDeliveryPolicy string

const (
	LateDeliveryAccept LateDeliveryPolicy = "accept"
	LateDeliveryReject LateDeliveryPolicy = "reject"
)

func (p LateDeliveryPolicy) IsValid() bool {
	return p == LateDeliveryAccept || p == LateDeliveryReject
}
