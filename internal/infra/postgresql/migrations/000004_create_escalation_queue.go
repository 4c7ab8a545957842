package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sncs/nursecall-engine/internal/repository"
	"gorm.io/gorm"
)

func createEscalationQueueTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_escalation_queue",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.EscalationModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EscalationModel{})
		},
	}
}
