package service

import (
	"strings"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/provider"
)

const (
	alertTimeLayout = "2006-01-02 15:04:05"
	testAlarmPrefix = "[TEST] "
)

// ComposeMessage renders the custodian alert for an alarm.
func ComposeMessage(alarm *domain.Alarm, contact *domain.Contact) provider.Message {
	subject := strings.TrimSpace(contact.SubjectName)
	if subject == "" {
		subject = contact.SubjectID
	}
	timestamp := formatAlertTime(alarm.Timestamp)

	var b strings.Builder
	if alarm.IsTest {
		b.WriteString(testAlarmPrefix)
	}
	b.WriteString("Alert: ")
	b.WriteString(subject)
	b.WriteString(" has been located at ")
	b.WriteString(timestamp)
	if alarm.Location != nil {
		if location := strings.TrimSpace(*alarm.Location); location != "" {
			b.WriteString("\nLocation: ")
			b.WriteString(location)
		}
	}

	return provider.Message{
		Text:           b.String(),
		TemplateParams: []string{subject, timestamp},
	}
}

func formatAlertTime(t time.Time) string {
	return t.UTC().Format(alertTimeLayout)
}
