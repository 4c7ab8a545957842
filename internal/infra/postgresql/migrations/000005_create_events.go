package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sncs/nursecall-engine/internal/repository"
	"gorm.io/gorm"
)

func createEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EventModel{}); err != nil {
				return err
			}
			indexes := []string{
				// Bridge polling: id > cursor AND is_broadcast = false.
				`CREATE INDEX IF NOT EXISTS idx_events_unbroadcast ON events (id) WHERE is_broadcast = false`,
				// Retention sweep.
				`CREATE INDEX IF NOT EXISTS idx_events_broadcast_created ON events (created_at) WHERE is_broadcast = true`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EventModel{})
		},
	}
}
