package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sncs/nursecall-engine/internal/repository"
	"gorm.io/gorm"
)

func createAuditAndRateLimitTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_create_audit_and_rate_limits",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&repository.AuditModel{},
				&repository.RateLimitModel{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.RateLimitModel{},
				&repository.AuditModel{},
			)
		},
	}
}
