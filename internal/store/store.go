package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrEntityNotFound indicates that no entity exists for the requested identifier.
	ErrEntityNotFound = errors.New("store: entity not found")
	// ErrListingNotFound indicates that the listing row to mutate does not exist.
	ErrListingNotFound = errors.New("store: listing not found")
	// ErrDuplicateListing indicates an insert for an identity key that already has a current row.
	ErrDuplicateListing = errors.New("store: current listing already exists for key")

	errMissingDatabase = errors.New("database handle is required")
	errMissingEntityID = errors.New("entity identifier is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew             = "store.new"
	opGetEntity            = "store.get_entity"
	opListEntities         = "store.list_entities"
	opCreateEntity         = "store.create_entity"
	opUpdateEntitySync     = "store.update_entity_sync_state"
	opGetCurrentListings   = "store.get_current_listings"
	opListListings         = "store.list_listings"
	opInsertListing        = "store.insert_listing"
	opUpdateListing        = "store.update_listing"
	opSoftDeleteListing    = "store.soft_delete_listing"
	opTouchListings        = "store.touch_listings"
	opAppendPriceHistory   = "store.append_price_history"
	opListPriceHistory     = "store.list_price_history"
	opAppendSyncAudit      = "store.append_sync_audit"
	opListSyncAudits       = "store.list_sync_audits"
	defaultHistoryPageSize = 500
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type Config struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store persists entities, listings and their append-only history through GORM.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(cfg Config) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// GetEntity loads one entity or returns ErrEntityNotFound.
func (s *Store) GetEntity(ctx context.Context, entityID string) (listings.Entity, error) {
	if entityID == "" {
		return listings.Entity{}, newServiceError(opGetEntity, "missing_entity_id", errMissingEntityID)
	}
	var entity listings.Entity
	err := s.db.WithContext(ctx).Where("id = ?", entityID).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return listings.Entity{}, newServiceError(opGetEntity, "not_found", ErrEntityNotFound)
	}
	if err != nil {
		s.logError(opGetEntity, "query_failed", err, zap.String("entity_id", entityID))
		return listings.Entity{}, newServiceError(opGetEntity, "query_failed", err)
	}
	return entity, nil
}

func (s *Store) ListEntities(ctx context.Context) ([]listings.Entity, error) {
	var entities []listings.Entity
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&entities).Error; err != nil {
		s.logError(opListEntities, "query_failed", err)
		return nil, newServiceError(opListEntities, "query_failed", err)
	}
	return entities, nil
}

// CreateEntity registers an entity. Discovery normally happens elsewhere; this backs the CLI.
func (s *Store) CreateEntity(ctx context.Context, entity *listings.Entity) error {
	if entity == nil || entity.ID == "" {
		return newServiceError(opCreateEntity, "missing_entity_id", errMissingEntityID)
	}
	if entity.SyncStatus == "" {
		entity.SyncStatus = listings.SyncStatusNever
	}
	if err := s.db.WithContext(ctx).Create(entity).Error; err != nil {
		s.logError(opCreateEntity, "create_failed", err, zap.String("entity_id", entity.ID))
		return newServiceError(opCreateEntity, "create_failed", err)
	}
	return nil
}

// UpdateEntitySyncState records when and how the entity was last synced.
func (s *Store) UpdateEntitySyncState(ctx context.Context, entityID string, syncedAt time.Time, status listings.SyncStatus) error {
	result := s.db.WithContext(ctx).
		Model(&listings.Entity{}).
		Where("id = ?", entityID).
		Updates(map[string]any{
			"last_synced_at": syncedAt.UTC(),
			"sync_status":    status,
		})
	if result.Error != nil {
		s.logError(opUpdateEntitySync, "update_failed", result.Error, zap.String("entity_id", entityID))
		return newServiceError(opUpdateEntitySync, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateEntitySync, "not_found", ErrEntityNotFound)
	}
	return nil
}

// GetCurrentListings returns the current snapshot for an entity.
func (s *Store) GetCurrentListings(ctx context.Context, entityID string) ([]listings.StoredListing, error) {
	var rows []listings.StoredListing
	if err := s.db.WithContext(ctx).
		Where("entity_id = ? AND is_current = ?", entityID, true).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opGetCurrentListings, "query_failed", err, zap.String("entity_id", entityID))
		return nil, newServiceError(opGetCurrentListings, "query_failed", err)
	}
	return rows, nil
}

// ListListings returns the entity's listings, optionally including removed rows.
func (s *Store) ListListings(ctx context.Context, entityID string, includeRemoved bool) ([]listings.StoredListing, error) {
	query := s.db.WithContext(ctx).Where("entity_id = ?", entityID)
	if !includeRemoved {
		query = query.Where("is_current = ?", true)
	}
	var rows []listings.StoredListing
	if err := query.Order("status ASC, list_price DESC, id ASC").Find(&rows).Error; err != nil {
		s.logError(opListListings, "query_failed", err, zap.String("entity_id", entityID))
		return nil, newServiceError(opListListings, "query_failed", err)
	}
	return rows, nil
}

// InsertListing creates a listing row. A removed row with the same identity key is revived
// in place so each entity keeps one row per key.
func (s *Store) InsertListing(ctx context.Context, listing *listings.StoredListing) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing listings.StoredListing
		lookup := tx.Where("entity_id = ? AND listing_key = ?", listing.EntityID, listing.ListingKey).Limit(1).Find(&existing)
		if lookup.Error != nil {
			return newServiceError(opInsertListing, "select_failed", lookup.Error)
		}
		if lookup.RowsAffected == 0 {
			if err := tx.Create(listing).Error; err != nil {
				return newServiceError(opInsertListing, "create_failed", err)
			}
			return nil
		}
		if existing.IsCurrent {
			return newServiceError(opInsertListing, "duplicate_key", ErrDuplicateListing)
		}

		listing.ID = existing.ID
		listing.CreatedAt = existing.CreatedAt
		if err := tx.Save(listing).Error; err != nil {
			return newServiceError(opInsertListing, "revive_failed", err)
		}
		s.logger.Info("removed listing revived",
			zap.String("entity_id", listing.EntityID),
			zap.String("listing_key", listing.ListingKey))
		return nil
	})
	if err != nil {
		s.logError(opInsertListing, "transaction_failed", err,
			zap.String("entity_id", listing.EntityID),
			zap.String("listing_key", listing.ListingKey))
		return err
	}
	return nil
}

// UpdateListing overwrites every column of an existing row.
func (s *Store) UpdateListing(ctx context.Context, listing *listings.StoredListing) error {
	return s.UpdateListingWithHistory(ctx, listing, nil)
}

// UpdateListingWithHistory overwrites the row and appends entry in one transaction, so a
// price change is never stored without its history entry. A nil entry only updates the row.
func (s *Store) UpdateListingWithHistory(ctx context.Context, listing *listings.StoredListing, entry *listings.PriceHistoryEntry) error {
	if listing.ID == "" {
		return newServiceError(opUpdateListing, "missing_listing_id", ErrListingNotFound)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(listing).Select("*").Omit("created_at").Updates(listing)
		if result.Error != nil {
			return newServiceError(opUpdateListing, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opUpdateListing, "not_found", ErrListingNotFound)
		}
		if entry == nil {
			return nil
		}
		if err := tx.Create(entry).Error; err != nil {
			return newServiceError(opAppendPriceHistory, "create_failed", err)
		}
		return nil
	})
	if err != nil {
		s.logError(opUpdateListing, "transaction_failed", err,
			zap.String("entity_id", listing.EntityID),
			zap.String("listing_key", listing.ListingKey))
		return err
	}
	return nil
}

// SoftDeleteListing persists the removed marker. Rows are never physically deleted.
func (s *Store) SoftDeleteListing(ctx context.Context, listing *listings.StoredListing) error {
	result := s.db.WithContext(ctx).
		Model(&listings.StoredListing{}).
		Where("id = ?", listing.ID).
		Updates(map[string]any{
			"standard_status": listing.StandardStatus,
			"mls_status":      listing.MlsStatus,
			"status":          listing.Status,
			"is_current":      listing.IsCurrent,
			"removed_at":      listing.RemovedAt,
		})
	if result.Error != nil {
		s.logError(opSoftDeleteListing, "update_failed", result.Error,
			zap.String("entity_id", listing.EntityID),
			zap.String("listing_key", listing.ListingKey))
		return newServiceError(opSoftDeleteListing, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opSoftDeleteListing, "not_found", ErrListingNotFound)
	}
	return nil
}

// TouchListings bumps last_seen_at for rows that were matched but unchanged.
func (s *Store) TouchListings(ctx context.Context, listingIDs []string, seenAt time.Time) error {
	if len(listingIDs) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Model(&listings.StoredListing{}).
		Where("id IN ?", listingIDs).
		UpdateColumn("last_seen_at", seenAt.UTC()).Error; err != nil {
		s.logError(opTouchListings, "update_failed", err, zap.Int("count", len(listingIDs)))
		return newServiceError(opTouchListings, "update_failed", err)
	}
	return nil
}

// ListPriceHistory returns the entity's price changes, newest first.
func (s *Store) ListPriceHistory(ctx context.Context, entityID string) ([]listings.PriceHistoryEntry, error) {
	var entries []listings.PriceHistoryEntry
	if err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("detected_at DESC, id DESC").
		Limit(defaultHistoryPageSize).
		Find(&entries).Error; err != nil {
		s.logError(opListPriceHistory, "query_failed", err, zap.String("entity_id", entityID))
		return nil, newServiceError(opListPriceHistory, "query_failed", err)
	}
	return entries, nil
}

func (s *Store) AppendSyncAudit(ctx context.Context, entry *listings.SyncAuditEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logError(opAppendSyncAudit, "create_failed", err, zap.String("entity_id", entry.EntityID))
		return newServiceError(opAppendSyncAudit, "create_failed", err)
	}
	return nil
}

// ListSyncAudits returns the entity's audit trail, newest first.
func (s *Store) ListSyncAudits(ctx context.Context, entityID string) ([]listings.SyncAuditEntry, error) {
	var entries []listings.SyncAuditEntry
	if err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("started_at DESC, id DESC").
		Limit(defaultHistoryPageSize).
		Find(&entries).Error; err != nil {
		s.logError(opListSyncAudits, "query_failed", err, zap.String("entity_id", entityID))
		return nil, newServiceError(opListSyncAudits, "query_failed", err)
	}
	return entries, nil
}

func (s *Store) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("store error", attrs...)
}
