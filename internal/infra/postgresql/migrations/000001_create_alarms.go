package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
	"gorm.io/gorm"
)

func createAlarmsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_alarms",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AlarmModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_alarms_source_triggered ON alarms (source_id, triggered_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_alarms_sweep ON alarms (notification_status, next_retry_at) WHERE notification_status IN ('PENDING', 'ERROR')`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AlarmModel{})
		},
	}
}
