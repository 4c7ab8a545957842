package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sncs/nursecall-engine/internal/repository"
	"gorm.io/gorm"
)

func createStaffTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_staff_tables",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&repository.UserModel{},
				&repository.RoomModel{},
				&repository.NurseModel{},
				&repository.ShiftModel{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.ShiftModel{},
				&repository.NurseModel{},
				&repository.RoomModel{},
				&repository.UserModel{},
			)
		},
	}
}
