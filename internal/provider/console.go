package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"go.uber.org/zap"
)

// ConsoleProvider logs messages instead of sending them. Used for local development.
type ConsoleProvider struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewConsoleProvider(logger *zap.Logger) *ConsoleProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleProvider{logger: logger, now: time.Now}
}

func (p *ConsoleProvider) Channel() domain.Channel { return domain.ChannelConsole }

func (p *ConsoleProvider) Send(ctx context.Context, recipient Recipient, message Message) (*Result, error) {
	to, err := NormalizeE164(recipient.Address)
	if err != nil {
		return nil, err
	}

	correlationID := fmt.Sprintf("console_%d", p.now().UnixNano())
	p.logger.Info("console notification",
		zap.String("to", to),
		zap.String("recipientId", recipient.ID),
		zap.String("message", message.Text),
		zap.Strings("templateParams", message.TemplateParams),
		zap.String("correlationId", correlationID),
	)

	return &Result{
		CorrelationID: correlationID,
		RawStatus:     "sent",
	}, nil
}
