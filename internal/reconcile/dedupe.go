// Package reconcile turns a raw feed snapshot into changes against the stored snapshot of one entity.
package reconcile

import "github.com/condoleads/condoleads-sub001/internal/listings"

// Deduplicate collapses records to one per identity key. The first record seen for a key
// wins and survivors keep their first-seen order, so the outcome is only as deterministic
// as the order the feed returned the variants in.
func Deduplicate(records []listings.ListingRecord) []listings.ListingRecord {
	seen := make(map[string]struct{}, len(records))
	unique := make([]listings.ListingRecord, 0, len(records))
	for _, record := range records {
		key := record.IdentityKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, record)
	}
	return unique
}
