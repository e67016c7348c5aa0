package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/shopspring/decimal"
)

// Update pairs a matched external record with the stored row it replaces.
type Update struct {
	Stored       listings.StoredListing
	External     listings.ListingRecord
	Reason       string
	PriceChanged bool
}

// ChangeSet partitions one entity's external and stored snapshots. Every identity key
// lands in exactly one partition.
type ChangeSet struct {
	ToInsert     []listings.ListingRecord
	ToUpdate     []Update
	ToSoftDelete []listings.StoredListing
	Unchanged    []listings.StoredListing
	// GuardTriggered reports that the external snapshot had no active listings while the
	// store did; no removals were computed and unmatched stored rows are in Unchanged.
	GuardTriggered bool
	// Retained counts unmatched rows kept in Unchanged because the query that returns
	// them failed.
	Retained int
}

// RemovalScope marks the parts of the external snapshot that are missing because their
// feed query failed. Stored rows in a missing part are never removed.
type RemovalScope struct {
	ActiveMissing    bool
	CompletedMissing bool
}

// protects reports whether an unmatched stored row must be kept. Completed rows come from
// the completed query; everything else from the active query.
func (s RemovalScope) protects(row listings.StoredListing) bool {
	if row.Status.IsCompleted() {
		return s.CompletedMissing
	}
	return s.ActiveMissing
}

// IsEmpty reports whether applying the change set would mutate anything.
func (c ChangeSet) IsEmpty() bool {
	return len(c.ToInsert) == 0 && len(c.ToUpdate) == 0 && len(c.ToSoftDelete) == 0
}

// Diff compares the external records for an entity against its current stored rows.
func Diff(external []listings.ListingRecord, stored []listings.StoredListing) ChangeSet {
	return DiffWithin(external, stored, RemovalScope{})
}

// DiffWithin is Diff for a partial snapshot: unmatched rows covered by scope stay current.
func DiffWithin(external []listings.ListingRecord, stored []listings.StoredListing, scope RemovalScope) ChangeSet {
	storedByKey := make(map[string]listings.StoredListing, len(stored))
	var duplicates []listings.StoredListing
	storedActive := false
	for _, row := range stored {
		if row.IsActive() {
			storedActive = true
		}
		if _, ok := storedByKey[row.ListingKey]; ok {
			duplicates = append(duplicates, row)
			continue
		}
		storedByKey[row.ListingKey] = row
	}

	externalActive := false
	for _, record := range external {
		if record.IsActive() {
			externalActive = true
			break
		}
	}

	changes := ChangeSet{GuardTriggered: !externalActive && storedActive}

	matched := make(map[string]struct{}, len(external))
	for _, record := range external {
		key := record.IdentityKey()
		if _, ok := matched[key]; ok {
			continue
		}
		matched[key] = struct{}{}

		row, ok := storedByKey[key]
		if !ok {
			changes.ToInsert = append(changes.ToInsert, record)
			continue
		}
		reason, priceChanged := compareListing(row, record)
		if reason == "" {
			changes.Unchanged = append(changes.Unchanged, row)
			continue
		}
		changes.ToUpdate = append(changes.ToUpdate, Update{
			Stored:       row,
			External:     record,
			Reason:       reason,
			PriceChanged: priceChanged,
		})
	}

	for _, row := range stored {
		if _, ok := matched[row.ListingKey]; ok {
			continue
		}
		if existing, ok := storedByKey[row.ListingKey]; !ok || existing.ID != row.ID {
			continue
		}
		if changes.GuardTriggered {
			changes.Unchanged = append(changes.Unchanged, row)
			continue
		}
		if scope.protects(row) {
			changes.Unchanged = append(changes.Unchanged, row)
			changes.Retained++
			continue
		}
		changes.ToSoftDelete = append(changes.ToSoftDelete, row)
	}

	for _, row := range duplicates {
		if changes.GuardTriggered {
			changes.Unchanged = append(changes.Unchanged, row)
			continue
		}
		changes.ToSoftDelete = append(changes.ToSoftDelete, row)
	}

	return changes
}

// compareListing returns a readable description of what changed, empty when nothing did.
// A record is an update when its price, canonical status or raw statuses changed, or when
// the feed reports a modification newer than the stored one.
func compareListing(stored listings.StoredListing, record listings.ListingRecord) (string, bool) {
	var reasons []string

	oldPrice := decimal.NewFromFloat(stored.ListPrice)
	newPrice := decimal.NewFromFloat(record.ListPrice)
	priceChanged := !oldPrice.Equal(newPrice)
	if priceChanged {
		reasons = append(reasons, fmt.Sprintf("price %s -> %s", oldPrice.String(), newPrice.String()))
	}

	status := record.Status()
	if status != stored.Status {
		reasons = append(reasons, fmt.Sprintf("status %s -> %s", stored.Status, status))
	} else if record.StandardStatus != stored.StandardStatus || record.MlsStatus != stored.MlsStatus {
		reasons = append(reasons, fmt.Sprintf("raw status %s/%s -> %s/%s",
			stored.StandardStatus, stored.MlsStatus, record.StandardStatus, record.MlsStatus))
	}

	if record.ModificationTimestamp != nil {
		if stored.ModificationTimestamp == nil || record.ModificationTimestamp.After(*stored.ModificationTimestamp) {
			reasons = append(reasons, "modified "+record.ModificationTimestamp.UTC().Format(time.RFC3339))
		}
	}

	return strings.Join(reasons, "; "), priceChanged
}
