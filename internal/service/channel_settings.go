package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"go.uber.org/zap"
)

const channelParamDescription = "Active outbound channel for alarm notifications"

// ChannelSource yields the channel to use for the next dispatch. Implementations must
// not cache the value across calls.
type ChannelSource interface {
	CurrentChannel(ctx context.Context) domain.Channel
}

// ChannelSettings reads and writes the notification_channel system parameter.
type ChannelSettings struct {
	settings repository.SettingRepository
	logger   *zap.Logger
}

func NewChannelSettings(settings repository.SettingRepository, logger *zap.Logger) (*ChannelSettings, error) {
	if settings == nil {
		return nil, fmt.Errorf("setting repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelSettings{settings: settings, logger: logger}, nil
}

// CurrentChannel returns the configured channel, or domain.DefaultChannel when the value
// is missing, unreadable or unrecognized.
func (s *ChannelSettings) CurrentChannel(ctx context.Context) domain.Channel {
	raw, err := s.settings.Get(ctx, repository.ParamNotificationChannel)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("failed to read channel setting, using default",
				zap.String("default", domain.DefaultChannel.String()),
				zap.Error(err),
			)
		}
		return domain.DefaultChannel
	}

	channel, ok := domain.ResolveChannel(raw)
	if !ok {
		s.logger.Warn("unrecognized channel setting, using default",
			zap.String("value", raw),
			zap.String("default", domain.DefaultChannel.String()),
		)
	}
	return channel
}

// SetChannel validates raw (channel name or legacy numeric code) and stores the canonical name.
func (s *ChannelSettings) SetChannel(ctx context.Context, raw string) (domain.Channel, error) {
	channel, err := domain.ParseChannelFromString(raw)
	if err != nil {
		return "", err
	}
	if err := s.settings.Set(ctx, repository.ParamNotificationChannel, channel.String(), channelParamDescription); err != nil {
		return "", fmt.Errorf("failed to store channel setting: %w", err)
	}

	s.logger.Info("notification channel updated", zap.String("channel", channel.String()))
	return channel, nil
}
