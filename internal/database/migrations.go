package database

import (
	"errors"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillCanonicalStatus = "2026-10-01_backfill_canonical_status"
	migrationMarkRemovedNotCurrent   = "2026-10-08_mark_removed_not_current"
	backfillBatchSize                = 200
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
		{name: migrationBackfillCanonicalStatus, apply: backfillCanonicalStatus},
		{name: migrationMarkRemovedNotCurrent, apply: markRemovedNotCurrent},
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
			return err
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

// backfillCanonicalStatus derives the canonical status for rows written before the column existed.
func backfillCanonicalStatus(db *gorm.DB) error {
	var rows []listings.StoredListing
	return db.Model(&listings.StoredListing{}).
		Where("status = ? OR status = ''", listings.StatusUnknown).
		FindInBatches(&rows, backfillBatchSize, func(tx *gorm.DB, _ int) error {
			for _, row := range rows {
				status := listings.ResolveStatus(row.StandardStatus, row.MlsStatus, listings.ParseTransactionType(row.TransactionType))
				if row.StandardStatus == listings.RemovedStatusLabel {
					status = listings.StatusRemoved
				}
				if status == listings.StatusUnknown {
					continue
				}
				if err := tx.Model(&listings.StoredListing{}).
					Where("id = ?", row.ID).
					UpdateColumn("status", status).Error; err != nil {
					return err
				}
			}
			return nil
		}).Error
}

// markRemovedNotCurrent clears is_current on rows carrying the removed marker.
func markRemovedNotCurrent(db *gorm.DB) error {
	return db.Model(&listings.StoredListing{}).
		Where("standard_status = ? AND is_current = ?", listings.RemovedStatusLabel, true).
		UpdateColumn("is_current", false).Error
}
