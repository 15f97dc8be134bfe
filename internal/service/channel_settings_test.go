package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCurrentChannel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		err     error
		want    domain.Channel
		wantLog string
	}{
		{name: "missing", err: domain.ErrNotFound, want: domain.DefaultChannel},
		{name: "read failure", err: errDatabaseDown, want: domain.DefaultChannel, wantLog: "failed to read channel setting, using default"},
		{name: "canonical", value: "META_WHATSAPP", want: domain.ChannelMetaWhatsApp},
		{name: "lower case", value: "twilio_whatsapp", want: domain.ChannelTwilioWhatsApp},
		{name: "legacy code", value: "1", want: domain.ChannelMetaWhatsApp},
		{name: "legacy sms code", value: "3", want: domain.ChannelTwilioSMS},
		{name: "garbage", value: "carrier-pigeon", want: domain.DefaultChannel, wantLog: "unrecognized channel setting, using default"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.WarnLevel)
			settings, err := NewChannelSettings(&fakeSettingRepo{
				getFn: func(ctx context.Context, parameter string) (string, error) {
					if parameter != repository.ParamNotificationChannel {
						t.Errorf("parameter = %q", parameter)
					}
					return tt.value, tt.err
				},
			}, zap.New(core))
			if err != nil {
				t.Fatalf("NewChannelSettings() error = %v", err)
			}

			if got := settings.CurrentChannel(context.Background()); got != tt.want {
				t.Fatalf("CurrentChannel() = %q, want %q", got, tt.want)
			}
			if tt.wantLog == "" {
				if logs.Len() != 0 {
					t.Fatalf("unexpected warnings: %v", logs.All())
				}
				return
			}
			if logs.FilterMessage(tt.wantLog).Len() != 1 {
				t.Fatalf("missing warning %q, got %v", tt.wantLog, logs.All())
			}
		})
	}
}

func TestCurrentChannelIsReadOnEveryCall(t *testing.T) {
	t.Parallel()

	value := "1"
	settings, err := NewChannelSettings(&fakeSettingRepo{
		getFn: func(ctx context.Context, parameter string) (string, error) { return value, nil },
	}, nil)
	if err != nil {
		t.Fatalf("NewChannelSettings() error = %v", err)
	}

	if got := settings.CurrentChannel(context.Background()); got != domain.ChannelMetaWhatsApp {
		t.Fatalf("CurrentChannel() = %q", got)
	}
	value = "TWILIO_SMS"
	if got := settings.CurrentChannel(context.Background()); got != domain.ChannelTwilioSMS {
		t.Fatalf("CurrentChannel() = %q after update", got)
	}
}

func TestSetChannel(t *testing.T) {
	t.Parallel()

	var stored string
	settings, err := NewChannelSettings(&fakeSettingRepo{
		setFn: func(ctx context.Context, parameter, value, description string) error {
			stored = value
			return nil
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewChannelSettings() error = %v", err)
	}

	got, err := settings.SetChannel(context.Background(), " 2 ")
	if err != nil {
		t.Fatalf("SetChannel() error = %v", err)
	}
	if got != domain.ChannelTwilioWhatsApp || stored != "TWILIO_WHATSAPP" {
		t.Fatalf("SetChannel() = %q stored %q, want TWILIO_WHATSAPP", got, stored)
	}

	if _, err := settings.SetChannel(context.Background(), "fax"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SetChannel() error = %v, want ErrValidation", err)
	}
}

func TestNewChannelSettingsRequiresRepository(t *testing.T) {
	t.Parallel()

	if _, err := NewChannelSettings(nil, nil); err == nil {
		t.Fatal("NewChannelSettings() expected error")
	}
}

func TestComposeMessage(t *testing.T) {
	t.Parallel()

	location := " Av. Insurgentes 300 "
	alarm := &domain.Alarm{
		ID:        "alarm-1",
		Timestamp: time.Date(2024, 5, 1, 9, 30, 0, 0, time.FixedZone("CST", -6*3600)),
		Location:  &location,
		IsTest:    true,
	}

	msg := ComposeMessage(alarm, &domain.Contact{SubjectID: "subject-1", SubjectName: "Rex"})
	wantText := "[TEST] Alert: Rex has been located at 2024-05-01 15:30:00\nLocation: Av. Insurgentes 300"
	if msg.Text != wantText {
		t.Fatalf("Text = %q, want %q", msg.Text, wantText)
	}
	if len(msg.TemplateParams) != 2 || msg.TemplateParams[0] != "Rex" || msg.TemplateParams[1] != "2024-05-01 15:30:00" {
		t.Fatalf("TemplateParams = %v", msg.TemplateParams)
	}

	alarm.IsTest = false
	alarm.Location = nil
	msg = ComposeMessage(alarm, &domain.Contact{SubjectID: "subject-1"})
	if strings.HasPrefix(msg.Text, "[TEST]") || !strings.Contains(msg.Text, "subject-1") || strings.Contains(msg.Text, "Location") {
		t.Fatalf("Text = %q", msg.Text)
	}
}
