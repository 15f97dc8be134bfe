package repository

import (
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"gorm.io/datatypes"
)

// AlarmModel is the persistence model for the alarms table.
type AlarmModel struct {
	ID                       string                    `gorm:"type:uuid;primaryKey"`
	SubjectID                string                    `gorm:"type:varchar(64);not null;index"`
	SourceID                 string                    `gorm:"type:varchar(128);not null"`
	Timestamp                time.Time                 `gorm:"column:triggered_at;not null"`
	Location                 *string                   `gorm:"type:text"`
	IsTest                   bool                      `gorm:"not null;default:false"`
	NotificationStatus       domain.NotificationStatus `gorm:"type:varchar(20);not null"`
	NotificationSent         bool                      `gorm:"not null;default:false"`
	NotificationError        *string                   `gorm:"type:text"`
	NotificationAttemptCount int                       `gorm:"not null;default:0"`
	LastAttempt              *time.Time
	NextRetryAt              *time.Time
	CorrelationID            *string         `gorm:"type:varchar(128);uniqueIndex"`
	Channel                  *domain.Channel `gorm:"type:varchar(20)"`
	ResolvedAt               *time.Time
	ResolutionNotes          *string `gorm:"type:text"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (AlarmModel) TableName() string {
	return "alarms"
}

// NotificationAttemptModel is the persistence model for notification_attempts.
type NotificationAttemptModel struct {
	ID               string                    `gorm:"type:uuid;primaryKey"`
	AlarmID          string                    `gorm:"type:uuid;not null;index"`
	RecipientID      string                    `gorm:"type:varchar(64)"`
	Channel          domain.Channel            `gorm:"type:varchar(20);not null"`
	Status           domain.NotificationStatus `gorm:"type:varchar(20);not null"`
	CorrelationID    *string                   `gorm:"type:varchar(128)"`
	SentAt           *time.Time
	ErrorMessage     *string        `gorm:"type:text"`
	RetryCount       int            `gorm:"not null;default:0"`
	ProviderResponse datatypes.JSON
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (NotificationAttemptModel) TableName() string {
	return "notification_attempts"
}

// SystemParameterModel stores operator-editable settings such as the active channel.
type SystemParameterModel struct {
	ID          uint   `gorm:"primaryKey"`
	Parameter   string `gorm:"type:varchar(100);not null;uniqueIndex"`
	Value       string `gorm:"type:text;not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SystemParameterModel) TableName() string {
	return "system_parameters"
}

// SubjectContactModel is the custodian address of record for a subject.
type SubjectContactModel struct {
	SubjectID   string `gorm:"type:varchar(64);primaryKey"`
	SubjectName string `gorm:"type:varchar(255);not null"`
	CustodianID string `gorm:"type:varchar(64)"`
	PhoneNumber string `gorm:"type:varchar(32)"`
	UpdatedAt   time.Time
}

func (SubjectContactModel) TableName() string {
	return "subject_contacts"
}

func alarmModelFromDomain(a *domain.Alarm) *AlarmModel {
	if a == nil {
		return nil
	}

	return &AlarmModel{
		ID:                       a.ID,
		SubjectID:                a.SubjectID,
		SourceID:                 a.SourceID,
		Timestamp:                a.Timestamp,
		Location:                 a.Location,
		IsTest:                   a.IsTest,
		NotificationStatus:       a.Status,
		NotificationSent:         a.NotificationSent,
		NotificationError:        a.NotificationError,
		NotificationAttemptCount: a.AttemptCount,
		LastAttempt:              a.LastAttempt,
		NextRetryAt:              a.NextRetryAt,
		CorrelationID:            a.CorrelationID,
		Channel:                  a.Channel,
		ResolvedAt:               a.ResolvedAt,
		ResolutionNotes:          a.ResolutionNotes,
		CreatedAt:                a.CreatedAt,
		UpdatedAt:                a.UpdatedAt,
	}
}

func alarmModelToDomain(m *AlarmModel) *domain.Alarm {
	if m == nil {
		return nil
	}

	return &domain.Alarm{
		ID:                m.ID,
		SubjectID:         m.SubjectID,
		SourceID:          m.SourceID,
		Timestamp:         m.Timestamp,
		Location:          m.Location,
		IsTest:            m.IsTest,
		Status:            m.NotificationStatus,
		NotificationSent:  m.NotificationSent,
		NotificationError: m.NotificationError,
		AttemptCount:      m.NotificationAttemptCount,
		LastAttempt:       m.LastAttempt,
		NextRetryAt:       m.NextRetryAt,
		CorrelationID:     m.CorrelationID,
		Channel:           m.Channel,
		ResolvedAt:        m.ResolvedAt,
		ResolutionNotes:   m.ResolutionNotes,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.NotificationAttempt) *NotificationAttemptModel {
	if a == nil {
		return nil
	}

	var payload datatypes.JSON
	if len(a.ProviderResponse) > 0 {
		payload = datatypes.JSON(a.ProviderResponse)
	}

	return &NotificationAttemptModel{
		ID:               a.ID,
		AlarmID:          a.AlarmID,
		RecipientID:      a.RecipientID,
		Channel:          a.Channel,
		Status:           a.Status,
		CorrelationID:    a.CorrelationID,
		SentAt:           a.SentAt,
		ErrorMessage:     a.ErrorMessage,
		RetryCount:       a.RetryCount,
		ProviderResponse: payload,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func attemptModelToDomain(m *NotificationAttemptModel) *domain.NotificationAttempt {
	if m == nil {
		return nil
	}

	return &domain.NotificationAttempt{
		ID:               m.ID,
		AlarmID:          m.AlarmID,
		RecipientID:      m.RecipientID,
		Channel:          m.Channel,
		Status:           m.Status,
		CorrelationID:    m.CorrelationID,
		SentAt:           m.SentAt,
		ErrorMessage:     m.ErrorMessage,
		RetryCount:       m.RetryCount,
		ProviderResponse: []byte(m.ProviderResponse),
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func contactModelToDomain(m *SubjectContactModel) *domain.Contact {
	if m == nil {
		return nil
	}

	return &domain.Contact{
		SubjectID:   m.SubjectID,
		SubjectName: m.SubjectName,
		CustodianID: m.CustodianID,
		PhoneNumber: m.PhoneNumber,
	}
}
