package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	triggerKeyPrefix = "alarm:trigger:"
	claimMarker      = "-"
)

// TriggerGate serializes alarm creation per trigger source. The first caller inside the
// window claims the source key; later callers read back the alarm id bound to it.
type TriggerGate struct {
	client *goredis.Client
}

func NewTriggerGate(client *goredis.Client) (*TriggerGate, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &TriggerGate{client: client}, nil
}

// Claim reports whether the caller owns the source for the next window.
func (g *TriggerGate) Claim(ctx context.Context, sourceID string, window time.Duration) (bool, error) {
	key, err := triggerKey(sourceID)
	if err != nil {
		return false, err
	}

	ok, err := g.client.SetNX(ctx, key, claimMarker, window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim trigger source: %w", err)
	}
	return ok, nil
}

// Bind records the alarm created by the claim holder.
func (g *TriggerGate) Bind(ctx context.Context, sourceID, alarmID string, window time.Duration) error {
	key, err := triggerKey(sourceID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(alarmID) == "" {
		return fmt.Errorf("alarm id is required")
	}

	if err := g.client.Set(ctx, key, alarmID, window).Err(); err != nil {
		return fmt.Errorf("failed to bind trigger source: %w", err)
	}
	return nil
}

// Resolve returns the alarm id bound to the source. ok is false while the claim is
// unbound or after the window expired.
func (g *TriggerGate) Resolve(ctx context.Context, sourceID string) (string, bool, error) {
	key, err := triggerKey(sourceID)
	if err != nil {
		return "", false, err
	}

	value, err := g.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve trigger source: %w", err)
	}
	if value == claimMarker {
		return "", false, nil
	}
	return value, true, nil
}

// Release drops an unbound claim so the next trigger is not suppressed by a failed create.
func (g *TriggerGate) Release(ctx context.Context, sourceID string) error {
	key, err := triggerKey(sourceID)
	if err != nil {
		return err
	}

	value, err := g.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to release trigger source: %w", err)
	}
	if value != claimMarker {
		return nil
	}
	return g.client.Del(ctx, key).Err()
}

func triggerKey(sourceID string) (string, error) {
	normalized := strings.TrimSpace(sourceID)
	if normalized == "" {
		return "", fmt.Errorf("source id is required")
	}
	return triggerKeyPrefix + normalized, nil
}
