package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ParamNotificationChannel = "notification_channel"

type SettingRepository interface {
	Get(ctx context.Context, parameter string) (string, error)
	Set(ctx context.Context, parameter string, value string, description string) error
}

type GormSettingRepo struct {
	db *gorm.DB
}

func NewGormSettingRepo(db *gorm.DB) *GormSettingRepo {
	return &GormSettingRepo{db: db}
}

func (r *GormSettingRepo) Get(ctx context.Context, parameter string) (string, error) {
	var model SystemParameterModel
	err := r.db.WithContext(ctx).
		Where("parameter = ?", parameter).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(model.Value), nil
}

func (r *GormSettingRepo) Set(ctx context.Context, parameter string, value string, description string) error {
	now := time.Now().UTC()
	model := SystemParameterModel{
		Parameter:   parameter,
		Value:       value,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "parameter"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model).Error
}
