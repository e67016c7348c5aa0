package reconcile

import (
	"fmt"
	"strings"

	"github.com/condoleads/condoleads-sub001/internal/listings"
)

// DefaultExcludedStatuses are dropped by the last filter step unless configured otherwise.
var DefaultExcludedStatuses = []listings.Status{
	listings.StatusPending,
	listings.StatusCancelled,
	listings.StatusWithdrawn,
	listings.StatusTerminated,
	listings.StatusSuspended,
	listings.StatusExpired,
}

// FilterConfig configures the FilterPipeline.
type FilterConfig struct {
	ExcludedStatuses []listings.Status
	// AllowPartialAddress lets entities without a street name or city match on the
	// remaining address parts. When false such entities fail with ErrIncompleteAddress.
	AllowPartialAddress bool
}

// FilterReport counts the survivors after each step.
type FilterReport struct {
	Input             int  `json:"input"`
	AfterStreetNumber int  `json:"afterStreetNumber"`
	AfterStreetName   int  `json:"afterStreetName"`
	AfterCity         int  `json:"afterCity"`
	AfterStatus       int  `json:"afterStatus"`
	StreetNameSkipped bool `json:"streetNameSkipped,omitempty"`
	CitySkipped       bool `json:"citySkipped,omitempty"`
}

// FilterPipeline narrows feed records to those belonging to an entity.
type FilterPipeline struct {
	excluded            map[listings.Status]struct{}
	allowPartialAddress bool
}

func NewFilterPipeline(cfg FilterConfig) *FilterPipeline {
	excluded := make(map[listings.Status]struct{}, len(cfg.ExcludedStatuses))
	for _, status := range cfg.ExcludedStatuses {
		excluded[status] = struct{}{}
	}
	return &FilterPipeline{
		excluded:            excluded,
		allowPartialAddress: cfg.AllowPartialAddress,
	}
}

// Apply runs street number, street name, city and status exclusion in that order.
// Exclusion runs last so it only discards records that already matched the address.
func (p *FilterPipeline) Apply(address listings.Address, records []listings.ListingRecord) ([]listings.ListingRecord, FilterReport, error) {
	report := FilterReport{Input: len(records)}

	streetNumber := normalizeToken(address.StreetNumber)
	if streetNumber == "" {
		return nil, report, fmt.Errorf("%w: street number is required", listings.ErrIncompleteAddress)
	}
	streetToken := firstToken(address.StreetName)
	cityToken := firstToken(address.City)
	if !p.allowPartialAddress {
		if streetToken == "" {
			return nil, report, fmt.Errorf("%w: street name is required", listings.ErrIncompleteAddress)
		}
		if cityToken == "" {
			return nil, report, fmt.Errorf("%w: city is required", listings.ErrIncompleteAddress)
		}
	}

	survivors := keep(records, func(record listings.ListingRecord) bool {
		return recordStreetNumber(record) == streetNumber
	})
	report.AfterStreetNumber = len(survivors)

	if streetToken == "" {
		report.StreetNameSkipped = true
	} else {
		survivors = keep(survivors, func(record listings.ListingRecord) bool {
			return matchesToken(record.StreetName, record.UnparsedAddress, streetToken)
		})
	}
	report.AfterStreetName = len(survivors)

	if cityToken == "" {
		report.CitySkipped = true
	} else {
		survivors = keep(survivors, func(record listings.ListingRecord) bool {
			return matchesToken(record.City, record.UnparsedAddress, cityToken)
		})
	}
	report.AfterCity = len(survivors)

	if len(p.excluded) > 0 {
		survivors = keep(survivors, func(record listings.ListingRecord) bool {
			return !p.isExcluded(record)
		})
	}
	report.AfterStatus = len(survivors)

	return survivors, report, nil
}

// isExcluded checks both vocabularies since they may disagree for the same record.
func (p *FilterPipeline) isExcluded(record listings.ListingRecord) bool {
	if _, ok := p.excluded[listings.ParseStandardStatus(record.StandardStatus)]; ok {
		return true
	}
	if _, ok := p.excluded[listings.ParseProviderStatus(record.MlsStatus)]; ok {
		return true
	}
	return false
}

func keep(records []listings.ListingRecord, predicate func(listings.ListingRecord) bool) []listings.ListingRecord {
	survivors := make([]listings.ListingRecord, 0, len(records))
	for _, record := range records {
		if predicate(record) {
			survivors = append(survivors, record)
		}
	}
	return survivors
}

func recordStreetNumber(record listings.ListingRecord) string {
	if record.StreetNumber != "" {
		return normalizeToken(record.StreetNumber)
	}
	return firstToken(record.UnparsedAddress)
}

// matchesToken passes when either the structured field starts with the token or the
// free-text address contains it as a word.
func matchesToken(structured, freeText, token string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(structured)), token) {
		return true
	}
	for _, word := range strings.Fields(strings.ToLower(freeText)) {
		if strings.Trim(word, ",.") == token {
			return true
		}
	}
	return false
}

func firstToken(value string) string {
	fields := strings.Fields(strings.ToLower(value))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ",.")
}

func normalizeToken(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
