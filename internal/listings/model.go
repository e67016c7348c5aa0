package listings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEntityID indicates that an entity identifier is empty or exceeds storage bounds.
	ErrInvalidEntityID = errors.New("listings: invalid entity id")
	// ErrIncompleteAddress indicates an entity address that cannot drive a feed query.
	ErrIncompleteAddress = errors.New("listings: incomplete entity address")
)

// EntityID represents a validated entity (building) identifier.
type EntityID string

// NewEntityID validates raw input and returns an EntityID.
func NewEntityID(rawInput string) (EntityID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEntityID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntityID, maxIdentifierLength)
	}
	return EntityID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EntityID) String() string {
	return string(id)
}

// SyncStatus is the outcome of the latest sync recorded on an entity and in audits.
type SyncStatus string

const (
	SyncStatusNever   SyncStatus = "never"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// Address is the subset of an entity's address used to query and filter the feed.
type Address struct {
	StreetNumber string
	StreetName   string
	City         string
}

// Entity is the grouping unit (a building) that listings are gathered for.
type Entity struct {
	ID           string     `gorm:"column:id;primaryKey;size:190;not null"`
	Name         string     `gorm:"column:name;size:320;not null;default:''"`
	StreetNumber string     `gorm:"column:street_number;size:32;not null;default:''"`
	StreetName   string     `gorm:"column:street_name;size:190;not null;default:''"`
	City         string     `gorm:"column:city;size:190;not null;default:''"`
	LastSyncedAt *time.Time `gorm:"column:last_synced_at"`
	SyncStatus   SyncStatus `gorm:"column:sync_status;size:16;not null;default:'never'"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Entity) TableName() string {
	return "entities"
}

// Address returns the query address of the entity.
func (e Entity) Address() Address {
	return Address{
		StreetNumber: strings.TrimSpace(e.StreetNumber),
		StreetName:   strings.TrimSpace(e.StreetName),
		City:         strings.TrimSpace(e.City),
	}
}

// DisplayName returns the entity name, or its street address when unnamed.
func (e Entity) DisplayName() string {
	if strings.TrimSpace(e.Name) != "" {
		return e.Name
	}
	return strings.TrimSpace(e.StreetNumber + " " + e.StreetName)
}

// StoredListing is the persisted form of a listing within one entity's snapshot.
// Rows are never physically deleted; removal rewrites the status columns and clears IsCurrent.
type StoredListing struct {
	ID                    string            `gorm:"column:id;primaryKey;size:64;not null"`
	EntityID              string            `gorm:"column:entity_id;size:190;not null;uniqueIndex:idx_listings_entity_key,priority:1;index:idx_listings_entity_current,priority:1"`
	ListingKey            string            `gorm:"column:listing_key;size:320;not null;uniqueIndex:idx_listings_entity_key,priority:2"`
	MLSNumber             string            `gorm:"column:mls_number;size:64;not null;default:''"`
	StreetNumber          string            `gorm:"column:street_number;size:32;not null;default:''"`
	StreetName            string            `gorm:"column:street_name;size:190;not null;default:''"`
	StreetSuffix          string            `gorm:"column:street_suffix;size:32;not null;default:''"`
	UnitNumber            string            `gorm:"column:unit_number;size:32;not null;default:''"`
	City                  string            `gorm:"column:city;size:190;not null;default:''"`
	PostalCode            string            `gorm:"column:postal_code;size:16;not null;default:''"`
	UnparsedAddress       string            `gorm:"column:unparsed_address;size:512;not null;default:''"`
	TransactionType       string            `gorm:"column:transaction_type;size:32;not null;default:''"`
	StandardStatus        string            `gorm:"column:standard_status;size:64;not null;default:''"`
	MlsStatus             string            `gorm:"column:mls_status;size:64;not null;default:''"`
	Status                Status            `gorm:"column:status;size:16;not null;default:'unknown';index"`
	ListPrice             float64           `gorm:"column:list_price;not null;default:0"`
	ClosePrice            *float64          `gorm:"column:close_price"`
	OriginalListPrice     *float64          `gorm:"column:original_list_price"`
	CloseDate             *time.Time        `gorm:"column:close_date"`
	ModificationTimestamp *time.Time        `gorm:"column:modification_timestamp"`
	PropertyType          string            `gorm:"column:property_type;size:64;not null;default:''"`
	BedroomsTotal         *int              `gorm:"column:bedrooms_total"`
	BathroomsTotal        *int              `gorm:"column:bathrooms_total"`
	LivingAreaRange       string            `gorm:"column:living_area_range;size:32;not null;default:''"`
	DaysOnMarket          *int              `gorm:"column:days_on_market"`
	PublicRemarks         string            `gorm:"column:public_remarks;type:text;not null;default:''"`
	ListOfficeName        string            `gorm:"column:list_office_name;size:320;not null;default:''"`
	Attributes            datatypes.JSONMap `gorm:"column:attributes"`
	IsCurrent             bool              `gorm:"column:is_current;not null;index:idx_listings_entity_current,priority:2"`
	LastSeenAt            time.Time         `gorm:"column:last_seen_at;not null"`
	SyncSource            string            `gorm:"column:sync_source;size:64;not null;default:''"`
	RemovedAt             *time.Time        `gorm:"column:removed_at"`
	CreatedAt             time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (StoredListing) TableName() string {
	return "listings"
}

// IsActive reports whether the stored row belongs to the active subset.
func (l StoredListing) IsActive() bool {
	return l.IsCurrent && l.Status == StatusActive
}

// NewStoredListing maps a feed record onto a fresh stored row for the entity.
func NewStoredListing(id string, entityID string, record ListingRecord, syncSource string, seenAt time.Time) StoredListing {
	listing := StoredListing{
		ID:         id,
		EntityID:   entityID,
		ListingKey: record.IdentityKey(),
		SyncSource: syncSource,
	}
	listing.ApplyRecord(record, seenAt)
	return listing
}

// ApplyRecord overwrites the mutable columns with the record's values and marks the row current.
func (l *StoredListing) ApplyRecord(record ListingRecord, seenAt time.Time) {
	l.MLSNumber = record.MLSNumber
	l.StreetNumber = record.StreetNumber
	l.StreetName = record.StreetName
	l.StreetSuffix = record.StreetSuffix
	l.UnitNumber = record.UnitNumber
	l.City = record.City
	l.PostalCode = record.PostalCode
	l.UnparsedAddress = record.UnparsedAddress
	l.TransactionType = record.TransactionType
	l.StandardStatus = record.StandardStatus
	l.MlsStatus = record.MlsStatus
	l.Status = record.Status()
	l.ListPrice = record.ListPrice
	l.ClosePrice = record.ClosePrice
	l.OriginalListPrice = record.OriginalListPrice
	l.CloseDate = record.CloseDate
	l.ModificationTimestamp = record.ModificationTimestamp
	l.PropertyType = record.PropertyType
	l.BedroomsTotal = record.BedroomsTotal
	l.BathroomsTotal = record.BathroomsTotal
	l.LivingAreaRange = record.LivingAreaRange
	l.DaysOnMarket = record.DaysOnMarket
	l.PublicRemarks = record.PublicRemarks
	l.ListOfficeName = record.ListOfficeName
	l.Attributes = nil
	if len(record.Extra) > 0 {
		l.Attributes = datatypes.JSONMap(record.Extra)
	}
	l.IsCurrent = true
	l.RemovedAt = nil
	l.LastSeenAt = seenAt
}

// MarkRemoved rewrites the status columns to the terminal removed marker.
func (l *StoredListing) MarkRemoved(removedAt time.Time) {
	l.StandardStatus = RemovedStatusLabel
	l.MlsStatus = RemovedStatusLabel
	l.Status = StatusRemoved
	l.IsCurrent = false
	l.RemovedAt = &removedAt
}

// PriceHistoryEntry is an append-only record of a detected list price change.
type PriceHistoryEntry struct {
	ID         string    `gorm:"column:id;primaryKey;size:64;not null"`
	ListingID  string    `gorm:"column:listing_id;size:64;not null;index"`
	EntityID   string    `gorm:"column:entity_id;size:190;not null;index:idx_price_history_entity_time,priority:1"`
	ListingKey string    `gorm:"column:listing_key;size:320;not null"`
	OldPrice   float64   `gorm:"column:old_price;not null"`
	NewPrice   float64   `gorm:"column:new_price;not null"`
	Delta      float64   `gorm:"column:delta;not null"`
	DeltaPct   float64   `gorm:"column:delta_pct;not null"`
	DetectedAt time.Time `gorm:"column:detected_at;not null;index:idx_price_history_entity_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (PriceHistoryEntry) TableName() string {
	return "listing_price_history"
}

// SyncAuditEntry records the outcome of one orchestrator run for one entity.
type SyncAuditEntry struct {
	ID           string     `gorm:"column:id;primaryKey;size:64;not null"`
	EntityID     string     `gorm:"column:entity_id;size:190;not null;index:idx_sync_audits_entity_time,priority:1"`
	BatchID      string     `gorm:"column:batch_id;size:64;not null;default:''"`
	Mode         string     `gorm:"column:mode;size:32;not null;default:''"`
	Found        int        `gorm:"column:found;not null;default:0"`
	Created      int        `gorm:"column:created;not null;default:0"`
	Updated      int        `gorm:"column:updated;not null;default:0"`
	Removed      int        `gorm:"column:removed;not null;default:0"`
	Unchanged    int        `gorm:"column:unchanged;not null;default:0"`
	Status       SyncStatus `gorm:"column:status;size:16;not null"`
	ErrorSummary string     `gorm:"column:error_summary;type:text;not null;default:''"`
	StartedAt    time.Time  `gorm:"column:started_at;not null;index:idx_sync_audits_entity_time,priority:2"`
	FinishedAt   time.Time  `gorm:"column:finished_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SyncAuditEntry) TableName() string {
	return "sync_audits"
}
