package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notification-sync/internal/repository"
	"gorm.io/gorm"
)

func createMutationLogTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_mutation_log",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.MutationLogModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_mutation_log_user_settled ON mutation_log (user_id, settled_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_mutation_log_correlation_id ON mutation_log (correlation_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.MutationLogModel{})
		},
	}
}
