package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultSyncSource = "feed"

var (
	errMissingStore      = errors.New("reconcile: listing store is required")
	errMissingIDProvider = errors.New("reconcile: id provider is required")
)

// ListingWriter is the slice of the store the Applier mutates through.
type ListingWriter interface {
	InsertListing(ctx context.Context, listing *listings.StoredListing) error
	UpdateListing(ctx context.Context, listing *listings.StoredListing) error
	UpdateListingWithHistory(ctx context.Context, listing *listings.StoredListing, entry *listings.PriceHistoryEntry) error
	SoftDeleteListing(ctx context.Context, listing *listings.StoredListing) error
	TouchListings(ctx context.Context, listingIDs []string, seenAt time.Time) error
}

type ApplyConfig struct {
	Store      ListingWriter
	Clock      func() time.Time
	IDProvider listings.IDProvider
	SyncSource string
	Logger     *zap.Logger
}

// ApplyError is a failure to write a single listing. It never aborts the rest of the change set.
type ApplyError struct {
	Operation  string
	ListingKey string
	Err        error
}

func (e ApplyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.ListingKey, e.Err)
}

func (e ApplyError) Unwrap() error {
	return e.Err
}

type ApplyResult struct {
	Inserted     int          `json:"inserted"`
	Updated      int          `json:"updated"`
	SoftDeleted  int          `json:"softDeleted"`
	Unchanged    int          `json:"unchanged"`
	PriceChanges int          `json:"priceChanges"`
	Errors       []ApplyError `json:"-"`
}

// ErrorSummary joins the per-record failures into one line.
func (r ApplyResult) ErrorSummary() string {
	if len(r.Errors) == 0 {
		return ""
	}
	joined := make([]error, 0, len(r.Errors))
	for _, applyErr := range r.Errors {
		joined = append(joined, applyErr)
	}
	return errors.Join(joined...).Error()
}

// Applier writes a ChangeSet to the store. It never deletes rows.
type Applier struct {
	store      ListingWriter
	clock      func() time.Time
	idProvider listings.IDProvider
	syncSource string
	logger     *zap.Logger
}

func NewApplier(cfg ApplyConfig) (*Applier, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	syncSource := cfg.SyncSource
	if syncSource == "" {
		syncSource = defaultSyncSource
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		syncSource: syncSource,
		logger:     logger,
	}, nil
}

// Apply runs updates, then inserts, then soft deletes, so an interrupted run leaves the
// store under-pruned rather than over-pruned. Unchanged rows get their last_seen_at bumped.
func (a *Applier) Apply(ctx context.Context, entityID string, changes ChangeSet) ApplyResult {
	now := a.clock().UTC()
	result := ApplyResult{}

	for _, update := range changes.ToUpdate {
		if err := a.applyUpdate(ctx, entityID, update, now, &result); err != nil {
			a.recordError(&result, entityID, "update", update.Stored.ListingKey, err)
			continue
		}
		result.Updated++
	}

	for _, record := range changes.ToInsert {
		if err := a.applyInsert(ctx, entityID, record, now); err != nil {
			a.recordError(&result, entityID, "insert", record.IdentityKey(), err)
			continue
		}
		result.Inserted++
	}

	for _, row := range changes.ToSoftDelete {
		listing := row
		listing.MarkRemoved(now)
		if err := a.store.SoftDeleteListing(ctx, &listing); err != nil {
			a.recordError(&result, entityID, "soft_delete", row.ListingKey, err)
			continue
		}
		result.SoftDeleted++
	}

	result.Unchanged = len(changes.Unchanged)
	if len(changes.Unchanged) > 0 {
		ids := make([]string, 0, len(changes.Unchanged))
		for _, row := range changes.Unchanged {
			ids = append(ids, row.ID)
		}
		if err := a.store.TouchListings(ctx, ids, now); err != nil {
			a.recordError(&result, entityID, "touch", "", err)
		}
	}

	if changes.GuardTriggered {
		a.logger.Warn("empty active feed result, removals suppressed",
			zap.String("entity_id", entityID),
			zap.Int("retained", len(changes.Unchanged)))
	}
	return result
}

func (a *Applier) applyUpdate(ctx context.Context, entityID string, update Update, now time.Time, result *ApplyResult) error {
	listing := update.Stored
	oldPrice := listing.ListPrice
	listing.ApplyRecord(update.External, now)
	listing.SyncSource = a.syncSource
	if !update.PriceChanged {
		return a.store.UpdateListing(ctx, &listing)
	}

	entry, err := a.newPriceHistoryEntry(listing, oldPrice, now)
	if err != nil {
		return err
	}
	if err := a.store.UpdateListingWithHistory(ctx, &listing, &entry); err != nil {
		return err
	}
	result.PriceChanges++
	a.logger.Debug("price change recorded",
		zap.String("entity_id", entityID),
		zap.String("listing_key", listing.ListingKey),
		zap.Float64("old_price", entry.OldPrice),
		zap.Float64("new_price", entry.NewPrice))
	return nil
}

func (a *Applier) applyInsert(ctx context.Context, entityID string, record listings.ListingRecord, now time.Time) error {
	id, err := a.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("id generation: %w", err)
	}
	listing := listings.NewStoredListing(id, entityID, record, a.syncSource, now)
	return a.store.InsertListing(ctx, &listing)
}

func (a *Applier) newPriceHistoryEntry(listing listings.StoredListing, oldPrice float64, detectedAt time.Time) (listings.PriceHistoryEntry, error) {
	id, err := a.idProvider.NewID()
	if err != nil {
		return listings.PriceHistoryEntry{}, fmt.Errorf("id generation: %w", err)
	}
	delta, deltaPct := PriceDelta(oldPrice, listing.ListPrice)
	return listings.PriceHistoryEntry{
		ID:         id,
		ListingID:  listing.ID,
		EntityID:   listing.EntityID,
		ListingKey: listing.ListingKey,
		OldPrice:   oldPrice,
		NewPrice:   listing.ListPrice,
		Delta:      delta,
		DeltaPct:   deltaPct,
		DetectedAt: detectedAt,
	}, nil
}

// PriceDelta returns the absolute change and the percentage change rounded to two places.
// The percentage is zero when there is no previous price to compare against.
func PriceDelta(oldPrice, newPrice float64) (float64, float64) {
	previous := decimal.NewFromFloat(oldPrice)
	delta := decimal.NewFromFloat(newPrice).Sub(previous)
	if previous.IsZero() {
		return delta.InexactFloat64(), 0
	}
	pct := delta.Div(previous).Mul(decimal.NewFromInt(100)).Round(2)
	return delta.InexactFloat64(), pct.InexactFloat64()
}

func (a *Applier) recordError(result *ApplyResult, entityID, operation, listingKey string, err error) {
	result.Errors = append(result.Errors, ApplyError{Operation: operation, ListingKey: listingKey, Err: err})
	a.logger.Error("listing apply failed",
		zap.String("entity_id", entityID),
		zap.String("operation", operation),
		zap.String("listing_key", listingKey),
		zap.Error(err))
}
