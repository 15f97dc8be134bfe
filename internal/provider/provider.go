package provider

import (
	"context"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
)

// ChannelProvider sends one message through one transport. Implementations never
// touch persisted state; the caller records the outcome.
type ChannelProvider interface {
	Channel() domain.Channel
	Send(ctx context.Context, recipient Recipient, message Message) (*Result, error)
}

// Recipient is the custodian address before transport-specific normalization.
type Recipient struct {
	ID      string
	Address string
}

// Message carries the free text body and the positional parameters used by template transports.
type Message struct {
	Text           string
	TemplateParams []string
}

// Result stores provider call metadata for the attempt record.
type Result struct {
	CorrelationID string
	RawStatus     string
	StatusCode    int
	Body          string
	// AwaitsConfirmation is true when a delivery webhook is expected for this message.
	AwaitsConfirmation bool
}
