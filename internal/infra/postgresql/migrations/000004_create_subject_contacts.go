package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createSubjectContactsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_subject_contacts",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.SubjectContactModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SubjectContactModel{})
		},
	}
}
