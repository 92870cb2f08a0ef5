package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationCreateSyncFlagIndexes = "2026-01-12_create_sync_flag_indexes"
	migrationRepairSyncFlags       = "2026-03-04_repair_sync_flags"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCreateSyncFlagIndexes, apply: createSyncFlagIndexes},
		{name: migrationRepairSyncFlags, apply: repairSyncFlags},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// createSyncFlagIndexes backs the push selection needs_sync=1 AND is_synced=0.
func createSyncFlagIndexes(db *gorm.DB) error {
	for _, spec := range models.PushTables() {
		statement := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (needs_sync, is_synced)",
			quoteIdent("idx_"+spec.Name+"_sync_flags"), quoteIdent(spec.Name),
		)
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}

func repairSyncFlags(db *gorm.DB) error {
	for _, spec := range models.CacheTables() {
		statement := fmt.Sprintf(
			"UPDATE %s SET needs_sync = 0 WHERE is_synced = 1 AND needs_sync = 1",
			quoteIdent(spec.Name),
		)
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
