package listings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const fallbackKeyPrefix = "fallback:"

// feedTimeLayouts lists the timestamp shapes the feed is known to emit.
var feedTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ListingRecord is one raw listing as returned by the external feed. Only the
// attributes the reconciliation engine inspects are typed; everything else is
// carried in Extra and passed through to storage untouched.
type ListingRecord struct {
	ListingKey            string
	MLSNumber             string
	StreetNumber          string
	StreetName            string
	StreetSuffix          string
	UnitNumber            string
	City                  string
	PostalCode            string
	UnparsedAddress       string
	TransactionType       string
	StandardStatus        string
	MlsStatus             string
	ListPrice             float64
	ClosePrice            *float64
	OriginalListPrice     *float64
	CloseDate             *time.Time
	ModificationTimestamp *time.Time
	PropertyType          string
	BedroomsTotal         *int
	BathroomsTotal        *int
	LivingAreaRange       string
	DaysOnMarket          *int
	PublicRemarks         string
	ListOfficeName        string
	Extra                 map[string]any
}

type recordWire struct {
	ListingKey            string   `json:"ListingKey,omitempty"`
	MLSNumber             string   `json:"ListingId,omitempty"`
	StreetNumber          string   `json:"StreetNumber,omitempty"`
	StreetName            string   `json:"StreetName,omitempty"`
	StreetSuffix          string   `json:"StreetSuffix,omitempty"`
	UnitNumber            string   `json:"UnitNumber,omitempty"`
	City                  string   `json:"City,omitempty"`
	PostalCode            string   `json:"PostalCode,omitempty"`
	UnparsedAddress       string   `json:"UnparsedAddress,omitempty"`
	TransactionType       string   `json:"TransactionType,omitempty"`
	StandardStatus        string   `json:"StandardStatus,omitempty"`
	MlsStatus             string   `json:"MlsStatus,omitempty"`
	ListPrice             *float64 `json:"ListPrice,omitempty"`
	ClosePrice            *float64 `json:"ClosePrice,omitempty"`
	OriginalListPrice     *float64 `json:"OriginalListPrice,omitempty"`
	CloseDate             string   `json:"CloseDate,omitempty"`
	ModificationTimestamp string   `json:"ModificationTimestamp,omitempty"`
	PropertyType          string   `json:"PropertyType,omitempty"`
	BedroomsTotal         *int     `json:"BedroomsTotal,omitempty"`
	BathroomsTotal        *int     `json:"BathroomsTotalInteger,omitempty"`
	LivingAreaRange       string   `json:"LivingAreaRange,omitempty"`
	DaysOnMarket          *int     `json:"DaysOnMarket,omitempty"`
	PublicRemarks         string   `json:"PublicRemarks,omitempty"`
	ListOfficeName        string   `json:"ListOfficeName,omitempty"`
}

var knownRecordKeys = []string{
	"ListingKey", "ListingId", "StreetNumber", "StreetName", "StreetSuffix", "UnitNumber",
	"City", "PostalCode", "UnparsedAddress", "TransactionType", "StandardStatus", "MlsStatus",
	"ListPrice", "ClosePrice", "OriginalListPrice", "CloseDate", "ModificationTimestamp",
	"PropertyType", "BedroomsTotal", "BathroomsTotalInteger", "LivingAreaRange", "DaysOnMarket",
	"PublicRemarks", "ListOfficeName",
}

// UnmarshalJSON decodes the typed attributes and collects the remainder into Extra.
func (r *ListingRecord) UnmarshalJSON(data []byte) error {
	var wire recordWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var extra map[string]any
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	for _, key := range knownRecordKeys {
		delete(extra, key)
	}

	closeDate, err := parseFeedTime(wire.CloseDate)
	if err != nil {
		return fmt.Errorf("listings: CloseDate: %w", err)
	}
	modified, err := parseFeedTime(wire.ModificationTimestamp)
	if err != nil {
		return fmt.Errorf("listings: ModificationTimestamp: %w", err)
	}

	record := ListingRecord{
		ListingKey:            strings.TrimSpace(wire.ListingKey),
		MLSNumber:             strings.TrimSpace(wire.MLSNumber),
		StreetNumber:          strings.TrimSpace(wire.StreetNumber),
		StreetName:            strings.TrimSpace(wire.StreetName),
		StreetSuffix:          strings.TrimSpace(wire.StreetSuffix),
		UnitNumber:            strings.TrimSpace(wire.UnitNumber),
		City:                  strings.TrimSpace(wire.City),
		PostalCode:            strings.TrimSpace(wire.PostalCode),
		UnparsedAddress:       strings.TrimSpace(wire.UnparsedAddress),
		TransactionType:       strings.TrimSpace(wire.TransactionType),
		StandardStatus:        strings.TrimSpace(wire.StandardStatus),
		MlsStatus:             strings.TrimSpace(wire.MlsStatus),
		ClosePrice:            wire.ClosePrice,
		OriginalListPrice:     wire.OriginalListPrice,
		CloseDate:             closeDate,
		ModificationTimestamp: modified,
		PropertyType:          wire.PropertyType,
		BedroomsTotal:         wire.BedroomsTotal,
		BathroomsTotal:        wire.BathroomsTotal,
		LivingAreaRange:       wire.LivingAreaRange,
		DaysOnMarket:          wire.DaysOnMarket,
		PublicRemarks:         wire.PublicRemarks,
		ListOfficeName:        wire.ListOfficeName,
	}
	if wire.ListPrice != nil {
		record.ListPrice = *wire.ListPrice
	}
	if len(extra) > 0 {
		record.Extra = extra
	}
	*r = record
	return nil
}

// MarshalJSON emits the record in the feed's own shape, pass-through attributes included.
func (r ListingRecord) MarshalJSON() ([]byte, error) {
	wire := recordWire{
		ListingKey:        r.ListingKey,
		MLSNumber:         r.MLSNumber,
		StreetNumber:      r.StreetNumber,
		StreetName:        r.StreetName,
		StreetSuffix:      r.StreetSuffix,
		UnitNumber:        r.UnitNumber,
		City:              r.City,
		PostalCode:        r.PostalCode,
		UnparsedAddress:   r.UnparsedAddress,
		TransactionType:   r.TransactionType,
		StandardStatus:    r.StandardStatus,
		MlsStatus:         r.MlsStatus,
		ClosePrice:        r.ClosePrice,
		OriginalListPrice: r.OriginalListPrice,
		PropertyType:      r.PropertyType,
		BedroomsTotal:     r.BedroomsTotal,
		BathroomsTotal:    r.BathroomsTotal,
		LivingAreaRange:   r.LivingAreaRange,
		DaysOnMarket:      r.DaysOnMarket,
		PublicRemarks:     r.PublicRemarks,
		ListOfficeName:    r.ListOfficeName,
	}
	if r.ListPrice != 0 {
		price := r.ListPrice
		wire.ListPrice = &price
	}
	if r.CloseDate != nil {
		wire.CloseDate = r.CloseDate.UTC().Format(time.RFC3339)
	}
	if r.ModificationTimestamp != nil {
		wire.ModificationTimestamp = r.ModificationTimestamp.UTC().Format(time.RFC3339Nano)
	}

	known, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]any, len(r.Extra)+len(knownRecordKeys))
	for key, value := range r.Extra {
		merged[key] = value
	}
	var knownFields map[string]any
	if err := json.Unmarshal(known, &knownFields); err != nil {
		return nil, err
	}
	for key, value := range knownFields {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// Transaction returns the parsed transaction type.
func (r ListingRecord) Transaction() TransactionType {
	return ParseTransactionType(r.TransactionType)
}

// Status returns the canonical status across both vocabularies.
func (r ListingRecord) Status() Status {
	return ResolveStatus(r.StandardStatus, r.MlsStatus, r.Transaction())
}

// IsActive reports whether the record belongs to the active subset.
func (r ListingRecord) IsActive() bool {
	return r.Status() == StatusActive
}

// IdentityKey returns the key used to match the record against stored listings.
// The fallback form includes the status, so a status change on a record without a
// ListingKey yields a different key.
func (r ListingRecord) IdentityKey() string {
	if r.ListingKey != "" {
		return r.ListingKey
	}
	return fallbackKeyPrefix + strings.Join([]string{
		normalizeKeyPart(r.AddressLine()),
		normalizeKeyPart(r.UnitNumber),
		r.Status().String(),
	}, "|")
}

// HasFallbackKey reports whether IdentityKey is derived from mutable fields.
func (r ListingRecord) HasFallbackKey() bool {
	return r.ListingKey == ""
}

// AddressLine returns the free-text address, or the structured parts joined when absent.
func (r ListingRecord) AddressLine() string {
	if r.UnparsedAddress != "" {
		return r.UnparsedAddress
	}
	parts := make([]string, 0, 3)
	for _, part := range []string{r.StreetNumber, r.StreetName, r.StreetSuffix} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ")
}

func normalizeKeyPart(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}

func parseFeedTime(raw string) (*time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	for _, layout := range feedTimeLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", raw)
}
