package domain

import (
	"fmt"
	"strings"
)

// Channel is one of the mutually exclusive outbound transports.
type Channel string

const (
	ChannelMetaWhatsApp   Channel = "META_WHATSAPP"
	ChannelTwilioWhatsApp Channel = "TWILIO_WHATSAPP"
	ChannelTwilioSMS      Channel = "TWILIO_SMS"
	ChannelConsole        Channel = "CONSOLE"
)

// DefaultChannel is used whenever the configured channel is missing or unrecognized.
const DefaultChannel = ChannelTwilioSMS

// legacyChannelCodes maps the numeric codes stored by older deployments.
var legacyChannelCodes = map[string]Channel{
	"1": ChannelMetaWhatsApp,
	"2": ChannelTwilioWhatsApp,
	"3": ChannelTwilioSMS,
}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelMetaWhatsApp, ChannelTwilioWhatsApp, ChannelTwilioSMS, ChannelConsole:
		return true
	}
	return false
}

// Channels returns every supported channel.
func Channels() []Channel {
	return []Channel{ChannelMetaWhatsApp, ChannelTwilioWhatsApp, ChannelTwilioSMS, ChannelConsole}
}

func ParseChannelFromString(s string) (Channel, error) {
	trimmed := strings.TrimSpace(s)
	if ch, ok := legacyChannelCodes[trimmed]; ok {
		return ch, nil
	}

	ch := Channel(strings.ToUpper(trimmed))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// ResolveChannel parses a configured value and falls back to DefaultChannel.
// The second return value is false when the fallback was used.
func ResolveChannel(raw string) (Channel, bool) {
	ch, err := ParseChannelFromString(raw)
	if err != nil {
		return DefaultChannel, false
	}
	return ch, true
}
