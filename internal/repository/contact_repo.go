package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactRepository interface {
	GetBySubjectID(ctx context.Context, subjectID string) (*domain.Contact, error)
	Upsert(ctx context.Context, c *domain.Contact) error
}

type GormContactRepo struct {
	db *gorm.DB
}

func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db}
}

func (r *GormContactRepo) GetBySubjectID(ctx context.Context, subjectID string) (*domain.Contact, error) {
	var model SubjectContactModel
	err := r.db.WithContext(ctx).First(&model, "subject_id = ?", subjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return contactModelToDomain(&model), nil
}

func (r *GormContactRepo) Upsert(ctx context.Context, c *domain.Contact) error {
	if err := c.Validate(); err != nil {
		return err
	}

	model := SubjectContactModel{
		SubjectID:   c.SubjectID,
		SubjectName: c.SubjectName,
		CustodianID: c.CustodianID,
		PhoneNumber: c.PhoneNumber,
		UpdatedAt:   time.Now().UTC(),
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"subject_name", "custodian_id", "phone_number", "updated_at"}),
		}).
		Create(&model).Error
}
