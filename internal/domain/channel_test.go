package domain

import (
	"errors"
	"testing"
)

func TestParseChannelFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Channel
		wantErr bool
	}{
		{name: "legacy meta code", input: "1", want: ChannelMetaWhatsApp},
		{name: "legacy twilio whatsapp code", input: " 2 ", want: ChannelTwilioWhatsApp},
		{name: "legacy twilio sms code", input: "3", want: ChannelTwilioSMS},
		{name: "name lowercase", input: "console", want: ChannelConsole},
		{name: "name uppercase", input: "META_WHATSAPP", want: ChannelMetaWhatsApp},
		{name: "unknown code", input: "4", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseChannelFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseChannelFromString(%q) error = %v, want ErrValidation", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChannelFromString(%q) unexpected error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Fatalf("ParseChannelFromString(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolveChannelFallsBackToDefault(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "fax", "9"} {
		got, ok := ResolveChannel(raw)
		if ok {
			t.Fatalf("ResolveChannel(%q) ok = true, want false", raw)
		}
		if got != DefaultChannel {
			t.Fatalf("ResolveChannel(%q) = %s, want %s", raw, got, DefaultChannel)
		}
	}

	got, ok := ResolveChannel("1")
	if !ok || got != ChannelMetaWhatsApp {
		t.Fatalf("ResolveChannel(1) = %s, %v", got, ok)
	}
}

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseStatusFromString(" delivered ")
	if err != nil {
		t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
	}
	if got != StatusDelivered {
		t.Fatalf("ParseStatusFromString() = %s, want DELIVERED", got)
	}

	if _, err := ParseStatusFromString("IN_PROGRESS"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
	}
}
