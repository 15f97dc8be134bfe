package repository

import (
	"context"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository is the read side of notification attempts. Attempts are written
// only through AlarmTx while the alarm lock is held.
type AttemptRepository interface {
	ListByAlarmID(ctx context.Context, alarmID string) ([]domain.NotificationAttempt, error)
	CountByAlarmID(ctx context.Context, alarmID string) (int64, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) ListByAlarmID(ctx context.Context, alarmID string) ([]domain.NotificationAttempt, error) {
	var models []NotificationAttemptModel
	err := r.db.WithContext(ctx).
		Where("alarm_id = ?", alarmID).
		Order("retry_count ASC").
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.NotificationAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}

func (r *GormAttemptRepo) CountByAlarmID(ctx context.Context, alarmID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationAttemptModel{}).
		Where("alarm_id = ?", alarmID).
		Count(&count).Error
	return count, err
}
