package reconcile

import (
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
)

// DefaultRecentWindow separates recent completed transactions from older ones.
const DefaultRecentWindow = 90 * 24 * time.Hour

// Categories holds the six display buckets. Records that fit none of them are only counted.
type Categories struct {
	ActiveSale    []listings.ListingRecord
	ActiveLease   []listings.ListingRecord
	RecentSold    []listings.ListingRecord
	OlderSold     []listings.ListingRecord
	RecentLeased  []listings.ListingRecord
	OlderLeased   []listings.ListingRecord
	Uncategorized int
}

// All flattens the buckets in declaration order.
func (c Categories) All() []listings.ListingRecord {
	total := len(c.ActiveSale) + len(c.ActiveLease) + len(c.RecentSold) + len(c.OlderSold) + len(c.RecentLeased) + len(c.OlderLeased)
	all := make([]listings.ListingRecord, 0, total)
	all = append(all, c.ActiveSale...)
	all = append(all, c.ActiveLease...)
	all = append(all, c.RecentSold...)
	all = append(all, c.OlderSold...)
	all = append(all, c.RecentLeased...)
	all = append(all, c.OlderLeased...)
	return all
}

// Counts returns the bucket sizes keyed by bucket name.
func (c Categories) Counts() map[string]int {
	return map[string]int{
		"activeSale":    len(c.ActiveSale),
		"activeLease":   len(c.ActiveLease),
		"recentSold":    len(c.RecentSold),
		"olderSold":     len(c.OlderSold),
		"recentLeased":  len(c.RecentLeased),
		"olderLeased":   len(c.OlderLeased),
		"uncategorized": c.Uncategorized,
	}
}

type Categorizer struct {
	window time.Duration
	clock  func() time.Time
}

func NewCategorizer(window time.Duration, clock func() time.Time) *Categorizer {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	if clock == nil {
		clock = time.Now
	}
	return &Categorizer{window: window, clock: clock}
}

// Categorize assigns each record to at most one bucket. A completed transaction is recent
// only when its close date is strictly after now minus the window; without a close date it
// is older.
func (c *Categorizer) Categorize(records []listings.ListingRecord) Categories {
	cutoff := c.clock().UTC().Add(-c.window)
	var categories Categories
	for _, record := range records {
		status := record.Status()
		transaction := record.Transaction()
		recent := record.CloseDate != nil && record.CloseDate.After(cutoff)

		switch {
		case status == listings.StatusActive && transaction == listings.TransactionSale:
			categories.ActiveSale = append(categories.ActiveSale, record)
		case status == listings.StatusActive && transaction == listings.TransactionLease:
			categories.ActiveLease = append(categories.ActiveLease, record)
		case status == listings.StatusSold && recent:
			categories.RecentSold = append(categories.RecentSold, record)
		case status == listings.StatusSold:
			categories.OlderSold = append(categories.OlderSold, record)
		case status == listings.StatusLeased && recent:
			categories.RecentLeased = append(categories.RecentLeased, record)
		case status == listings.StatusLeased:
			categories.OlderLeased = append(categories.OlderLeased, record)
		default:
			categories.Uncategorized++
		}
	}
	return categories
}
