package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sncs/nursecall-engine/internal/repository"
	"gorm.io/gorm"
)

func createDispatchQueueTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_dispatch_queue",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatchQueueModel{}); err != nil {
				return err
			}
			// Positions form a total order per department.
			return tx.Exec(
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_dispatch_dept_position ON dispatch_queue (dept_id, queue_position)`,
			).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchQueueModel{})
		},
	}
}
