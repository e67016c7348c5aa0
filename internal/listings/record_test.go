package listings

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestResolveStatusAcrossVocabularies(t *testing.T) {
	tests := []struct {
		name        string
		standard    string
		provider    string
		transaction TransactionType
		want        Status
	}{
		{name: "provider-new-is-active", standard: "Active", provider: "New", transaction: TransactionSale, want: StatusActive},
		{name: "provider-abbreviation-sold", standard: "Closed", provider: "Sld", transaction: TransactionSale, want: StatusSold},
		{name: "provider-unknown-falls-back", standard: "Pending", provider: "Zzz", transaction: TransactionSale, want: StatusPending},
		{name: "closed-sale-refined", standard: "Closed", provider: "", transaction: TransactionSale, want: StatusSold},
		{name: "closed-lease-refined", standard: "closed", provider: "", transaction: TransactionLease, want: StatusLeased},
		{name: "closed-unknown-transaction", standard: "Closed", provider: "", transaction: TransactionUnknown, want: StatusClosed},
		{name: "whitespace-and-case", standard: "  ACTIVE   under   contract ", provider: "", transaction: TransactionSale, want: StatusActive},
		{name: "provider-terminated", standard: "Withdrawn", provider: "Ter", transaction: TransactionLease, want: StatusTerminated},
		{name: "nothing-known", standard: "", provider: "", transaction: TransactionSale, want: StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveStatus(tt.standard, tt.provider, tt.transaction)
			if got != tt.want {
				t.Fatalf("unexpected status: got %s want %s", got, tt.want)
			}
		})
	}
}

func TestParseStatusListRejectsUnknownNames(t *testing.T) {
	statuses, err := ParseStatusList([]string{"pending", "Canceled", " ", "expired"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(statuses) != 3 || statuses[1] != StatusCancelled {
		t.Fatalf("unexpected statuses: %v", statuses)
	}

	if _, err := ParseStatusList([]string{"pending", "bogus"}); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestListingRecordUnmarshalKeepsPassThroughAttributes(t *testing.T) {
	payload := `{
		"ListingKey": "C1234567",
		"StreetNumber": " 10 ",
		"StreetName": "Bay",
		"City": "Toronto",
		"TransactionType": "For Sale",
		"StandardStatus": "Closed",
		"MlsStatus": "Sold",
		"ListPrice": 799000,
		"ClosePrice": 780000,
		"CloseDate": "2026-07-01",
		"ModificationTimestamp": "2026-07-02T10:11:12Z",
		"BedroomsTotal": 2,
		"ParkingSpaces": 1,
		"Locker": "Owned"
	}`

	var record ListingRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if record.StreetNumber != "10" {
		t.Fatalf("expected trimmed street number, got %q", record.StreetNumber)
	}
	if record.ListPrice != 799000 {
		t.Fatalf("unexpected list price %v", record.ListPrice)
	}
	if record.ClosePrice == nil || *record.ClosePrice != 780000 {
		t.Fatalf("unexpected close price %v", record.ClosePrice)
	}
	expectedClose := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	if record.CloseDate == nil || !record.CloseDate.Equal(expectedClose) {
		t.Fatalf("unexpected close date %v", record.CloseDate)
	}
	if record.Status() != StatusSold {
		t.Fatalf("expected sold status, got %s", record.Status())
	}
	if len(record.Extra) != 2 {
		t.Fatalf("expected two pass-through attributes, got %v", record.Extra)
	}
	if record.Extra["Locker"] != "Owned" {
		t.Fatalf("unexpected pass-through value %v", record.Extra["Locker"])
	}
	if _, ok := record.Extra["ListPrice"]; ok {
		t.Fatalf("typed attribute leaked into pass-through bag")
	}

	encoded, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded["Locker"] != "Owned" || decoded["ListingKey"] != "C1234567" {
		t.Fatalf("unexpected encoded record: %s", encoded)
	}
}

func TestListingRecordRejectsMalformedTimestamp(t *testing.T) {
	var record ListingRecord
	err := json.Unmarshal([]byte(`{"ListingKey":"X1","ModificationTimestamp":"yesterday"}`), &record)
	if err == nil {
		t.Fatalf("expected malformed timestamp to fail")
	}
}

func TestIdentityKeyFallback(t *testing.T) {
	keyed := ListingRecord{ListingKey: "W555", UnparsedAddress: "1 King St W"}
	if keyed.IdentityKey() != "W555" {
		t.Fatalf("expected primary key identity, got %q", keyed.IdentityKey())
	}
	if keyed.HasFallbackKey() {
		t.Fatalf("keyed record should not use fallback")
	}

	active := ListingRecord{
		StreetNumber:    "1",
		StreetName:      "King",
		StreetSuffix:    "St",
		UnitNumber:      "1204",
		StandardStatus:  "Active",
		TransactionType: "For Lease",
	}
	want := "fallback:1 king st|1204|active"
	if active.IdentityKey() != want {
		t.Fatalf("unexpected fallback key: got %q want %q", active.IdentityKey(), want)
	}

	leased := active
	leased.StandardStatus = "Closed"
	if leased.IdentityKey() == active.IdentityKey() {
		t.Fatalf("fallback key is expected to change with status")
	}
}

func TestStoredListingMarkRemovedKeepsRow(t *testing.T) {
	seenAt := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	record := ListingRecord{ListingKey: "E1", StandardStatus: "Active", TransactionType: "For Sale", ListPrice: 500000}
	listing := NewStoredListing("row-1", "entity-1", record, "feed", seenAt)
	if !listing.IsActive() {
		t.Fatalf("expected fresh listing to be active")
	}

	removedAt := seenAt.Add(time.Hour)
	listing.MarkRemoved(removedAt)
	if listing.IsCurrent || listing.Status != StatusRemoved {
		t.Fatalf("expected removed marker, got current=%v status=%s", listing.IsCurrent, listing.Status)
	}
	if listing.StandardStatus != RemovedStatusLabel || listing.MlsStatus != RemovedStatusLabel {
		t.Fatalf("expected raw statuses rewritten, got %q/%q", listing.StandardStatus, listing.MlsStatus)
	}
	if listing.ListPrice != 500000 || listing.ListingKey != "E1" {
		t.Fatalf("removal must not clear listing data")
	}
}
