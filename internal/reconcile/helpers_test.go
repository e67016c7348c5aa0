package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%03d", g.next), nil
}

type memoryWriter struct {
	rows        map[string]listings.StoredListing
	history     []listings.PriceHistoryEntry
	touched     []string
	failInserts map[string]error
	// failHistory fails the next price-changing update of a listing key once.
	failHistory map[string]error
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{
		rows:        map[string]listings.StoredListing{},
		failInserts: map[string]error{},
		failHistory: map[string]error{},
	}
}

func (w *memoryWriter) InsertListing(_ context.Context, listing *listings.StoredListing) error {
	if err := w.failInserts[listing.ListingKey]; err != nil {
		return err
	}
	for id, row := range w.rows {
		if row.EntityID == listing.EntityID && row.ListingKey == listing.ListingKey {
			if row.IsCurrent {
				return errors.New("duplicate current listing")
			}
			listing.ID = id
		}
	}
	w.rows[listing.ID] = *listing
	return nil
}

func (w *memoryWriter) UpdateListing(_ context.Context, listing *listings.StoredListing) error {
	if _, ok := w.rows[listing.ID]; !ok {
		return errors.New("listing not found")
	}
	w.rows[listing.ID] = *listing
	return nil
}

func (w *memoryWriter) SoftDeleteListing(_ context.Context, listing *listings.StoredListing) error {
	if _, ok := w.rows[listing.ID]; !ok {
		return errors.New("listing not found")
	}
	w.rows[listing.ID] = *listing
	return nil
}

func (w *memoryWriter) TouchListings(_ context.Context, listingIDs []string, seenAt time.Time) error {
	for _, id := range listingIDs {
		row := w.rows[id]
		row.LastSeenAt = seenAt
		w.rows[id] = row
		w.touched = append(w.touched, id)
	}
	return nil
}

func (w *memoryWriter) UpdateListingWithHistory(ctx context.Context, listing *listings.StoredListing, entry *listings.PriceHistoryEntry) error {
	if err := w.failHistory[listing.ListingKey]; err != nil && entry != nil {
		delete(w.failHistory, listing.ListingKey)
		return err
	}
	if err := w.UpdateListing(ctx, listing); err != nil {
		return err
	}
	if entry != nil {
		w.history = append(w.history, *entry)
	}
	return nil
}

func (w *memoryWriter) current(entityID string) []listings.StoredListing {
	var rows []listings.StoredListing
	for _, row := range w.rows {
		if row.EntityID == entityID && row.IsCurrent {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ListingKey < rows[j].ListingKey })
	return rows
}

func (w *memoryWriter) seed(rows ...listings.StoredListing) {
	for _, row := range rows {
		w.rows[row.ID] = row
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func activeSale(key string, price float64) listings.ListingRecord {
	return listings.ListingRecord{
		ListingKey:      key,
		StreetNumber:    "100",
		StreetName:      "Harbour",
		StreetSuffix:    "St",
		City:            "Toronto",
		TransactionType: "For Sale",
		StandardStatus:  "Active",
		MlsStatus:       "New",
		ListPrice:       price,
	}
}

func storedFrom(t *testing.T, id string, entityID string, record listings.ListingRecord, seenAt time.Time) listings.StoredListing {
	t.Helper()
	return listings.NewStoredListing(id, entityID, record, "feed", seenAt)
}

func newTestApplier(t *testing.T, writer ListingWriter, now time.Time) *Applier {
	t.Helper()
	applier, err := NewApplier(ApplyConfig{
		Store:      writer,
		Clock:      fixedClock(now),
		IDProvider: &sequentialIDs{},
	})
	if err != nil {
		t.Fatalf("unexpected applier error: %v", err)
	}
	return applier
}
