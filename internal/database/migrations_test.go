package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsCanonicalStatus(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&listings.StoredListing{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	seenAt := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	legacy := []listings.StoredListing{
		{ID: "row-1", EntityID: "entity-1", ListingKey: "A", StandardStatus: "Closed", MlsStatus: "Sld", TransactionType: "For Sale", Status: listings.StatusUnknown, IsCurrent: true, LastSeenAt: seenAt},
		{ID: "row-2", EntityID: "entity-1", ListingKey: "B", StandardStatus: listings.RemovedStatusLabel, MlsStatus: listings.RemovedStatusLabel, Status: listings.StatusUnknown, IsCurrent: true, LastSeenAt: seenAt},
		{ID: "row-3", EntityID: "entity-1", ListingKey: "C", StandardStatus: "Mystery", Status: listings.StatusUnknown, IsCurrent: true, LastSeenAt: seenAt},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert listings: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	expected := map[string]struct {
		status  listings.Status
		current bool
	}{
		"row-1": {status: listings.StatusSold, current: true},
		"row-2": {status: listings.StatusRemoved, current: false},
		"row-3": {status: listings.StatusUnknown, current: true},
	}
	for id, want := range expected {
		var stored listings.StoredListing
		if err := database.Where("id = ?", id).Take(&stored).Error; err != nil {
			testContext.Fatalf("failed to reload %s: %v", id, err)
		}
		if stored.Status != want.status || stored.IsCurrent != want.current {
			testContext.Fatalf("%s: got status=%s current=%v, want %s/%v", id, stored.Status, stored.IsCurrent, want.status, want.current)
		}
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillCanonicalStatus).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-running migrations should be a no-op: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Options{Driver: "oracle"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(Options{Driver: DriverPostgres}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "condoleads.db")
	db, err := Open(Options{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"entities", "listings", "listing_price_history", "sync_audits", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}

type capturedLines []string

func (c *capturedLines) Printf(format string, args ...interface{}) {
	*c = append(*c, fmt.Sprintf(format, args...))
}

func TestGormLoggerIgnoresRecordNotFound(testContext *testing.T) {
	var lines capturedLines
	logger := newGormLogger(&lines)
	query := func() (string, int64) { return "SELECT * FROM listings", 0 }

	logger.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	if len(lines) != 0 {
		testContext.Fatalf("expected record-not-found to stay quiet, got %v", lines)
	}

	logger.Trace(context.Background(), time.Now(), query, errors.New("disk I/O error"))
	if len(lines) != 1 {
		testContext.Fatalf("expected a real failure to be logged, got %v", lines)
	}
}
