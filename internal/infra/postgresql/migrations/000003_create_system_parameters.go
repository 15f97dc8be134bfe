package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func createSystemParametersTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_system_parameters",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.SystemParameterModel{}); err != nil {
				return err
			}
			seed := repository.SystemParameterModel{
				Parameter:   repository.ParamNotificationChannel,
				Value:       domain.DefaultChannel.String(),
				Description: "Active outbound channel for alarm notifications",
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SystemParameterModel{})
		},
	}
}
