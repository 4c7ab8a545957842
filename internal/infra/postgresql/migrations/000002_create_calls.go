package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sncs/nursecall-engine/internal/repository"
	"gorm.io/gorm"
)

func createCallsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_calls",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CallModel{}); err != nil {
				return err
			}
			indexes := []string{
				// Throttle guard and escalation scans filter on these.
				`CREATE INDEX IF NOT EXISTS idx_calls_room_status_initiated ON calls (room_id, status, initiated_at)`,
				`CREATE INDEX IF NOT EXISTS idx_calls_status_initiated ON calls (status, initiated_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CallModel{})
		},
	}
}
