package queue

import (
	"fmt"
	"strings"
	"time"
)

// DispatchMessage asks a worker to attempt delivery for one alarm.
type DispatchMessage struct {
	AlarmID       string `json:"alarmId"`
	IsTest        bool   `json:"isTest"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.AlarmID) == "" {
		return fmt.Errorf("alarmId is required")
	}
	return nil
}

// delayTiers are the TTLs of the delay queues. Every message in one delay queue shares the
// queue TTL, so messages expire in arrival order. The backoff steps are tiers themselves.
var delayTiers = []time.Duration{
	15 * time.Second,
	30 * time.Second,
	time.Minute,
	2 * time.Minute,
	4 * time.Minute,
	8 * time.Minute,
	10 * time.Minute,
}

// delayTierFor returns the smallest tier covering delay, capped at the largest tier.
func delayTierFor(delay time.Duration) time.Duration {
	for _, tier := range delayTiers {
		if delay <= tier {
			return tier
		}
	}
	return delayTiers[len(delayTiers)-1]
}

// DelayQueueName is the delay queue holding messages for tier.
func DelayQueueName(tier time.Duration) string {
	return fmt.Sprintf("%s.%ds", DelayQueue, int64(tier/time.Second))
}
