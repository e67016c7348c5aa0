package listings

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the canonical listing status shared by both feed vocabularies.
type Status string

const (
	StatusActive     Status = "active"
	StatusPending    Status = "pending"
	StatusClosed     Status = "closed"
	StatusSold       Status = "sold"
	StatusLeased     Status = "leased"
	StatusExpired    Status = "expired"
	StatusTerminated Status = "terminated"
	StatusCancelled  Status = "cancelled"
	StatusWithdrawn  Status = "withdrawn"
	StatusSuspended  Status = "suspended"
	StatusRemoved    Status = "removed"
	StatusUnknown    Status = "unknown"
)

// RemovedStatusLabel is written into both raw status columns on soft delete.
const RemovedStatusLabel = "Removed"

// ErrUnknownStatus indicates a configured status name that maps to no canonical status.
var ErrUnknownStatus = errors.New("listings: unknown status")

// standardStatuses maps the coarse, standardized vocabulary.
var standardStatuses = map[string]Status{
	"active":                StatusActive,
	"active under contract": StatusActive,
	"coming soon":           StatusActive,
	"incomplete":            StatusActive,
	"pending":               StatusPending,
	"closed":                StatusClosed,
	"canceled":              StatusCancelled,
	"cancelled":             StatusCancelled,
	"expired":               StatusExpired,
	"withdrawn":             StatusWithdrawn,
	"hold":                  StatusSuspended,
	"delete":                StatusRemoved,
	"removed":               StatusRemoved,
}

// providerStatuses maps the finer-grained board vocabulary, including its abbreviations.
var providerStatuses = map[string]Status{
	"new":                StatusActive,
	"price change":       StatusActive,
	"extension":          StatusActive,
	"ext":                StatusActive,
	"active":             StatusActive,
	"pc":                 StatusActive,
	"deal fell through":  StatusActive,
	"dft":                StatusActive,
	"sold":               StatusSold,
	"sld":                StatusSold,
	"leased":             StatusLeased,
	"lsd":                StatusLeased,
	"sold conditional":   StatusPending,
	"sc":                 StatusPending,
	"leased conditional": StatusPending,
	"lc":                 StatusPending,
	"pending":            StatusPending,
	"terminated":         StatusTerminated,
	"ter":                StatusTerminated,
	"suspended":          StatusSuspended,
	"sus":                StatusSuspended,
	"expired":            StatusExpired,
	"exp":                StatusExpired,
	"cancelled":          StatusCancelled,
	"canceled":           StatusCancelled,
	"can":                StatusCancelled,
	"withdrawn":          StatusWithdrawn,
	"wd":                 StatusWithdrawn,
	"removed":            StatusRemoved,
}

// ParseStandardStatus maps a raw standard-vocabulary status to a canonical Status.
func ParseStandardStatus(raw string) Status {
	if status, ok := standardStatuses[normalizeStatus(raw)]; ok {
		return status
	}
	return StatusUnknown
}

// ParseProviderStatus maps a raw provider-vocabulary status to a canonical Status.
func ParseProviderStatus(raw string) Status {
	if status, ok := providerStatuses[normalizeStatus(raw)]; ok {
		return status
	}
	return StatusUnknown
}

// ResolveStatus combines both vocabularies into one canonical status. The provider
// vocabulary is finer-grained and wins whenever it is recognized. A bare "closed"
// is refined to sold or leased using the transaction type.
func ResolveStatus(standard, provider string, transaction TransactionType) Status {
	status := ParseProviderStatus(provider)
	if status == StatusUnknown {
		status = ParseStandardStatus(standard)
	}
	if status == StatusClosed {
		switch transaction {
		case TransactionSale:
			return StatusSold
		case TransactionLease:
			return StatusLeased
		}
	}
	return status
}

// IsCompleted reports whether the status is a finished sale or lease.
func (s Status) IsCompleted() bool {
	return s == StatusSold || s == StatusLeased || s == StatusClosed
}

// String returns the canonical name.
func (s Status) String() string {
	return string(s)
}

// ParseStatusName parses a canonical status name such as "pending" or "cancelled".
func ParseStatusName(raw string) (Status, error) {
	normalized := normalizeStatus(raw)
	switch Status(normalized) {
	case StatusActive, StatusPending, StatusClosed, StatusSold, StatusLeased, StatusExpired,
		StatusTerminated, StatusCancelled, StatusWithdrawn, StatusSuspended, StatusRemoved:
		return Status(normalized), nil
	}
	if normalized == "canceled" {
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// ParseStatusList parses a list of canonical status names, skipping blanks.
func ParseStatusList(raw []string) ([]Status, error) {
	statuses := make([]Status, 0, len(raw))
	for _, value := range raw {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, err := ParseStatusName(value)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// TransactionType distinguishes sale listings from lease listings.
type TransactionType string

const (
	TransactionSale    TransactionType = "sale"
	TransactionLease   TransactionType = "lease"
	TransactionUnknown TransactionType = "unknown"
)

// ParseTransactionType maps the feed's free-form transaction label.
func ParseTransactionType(raw string) TransactionType {
	switch normalizeStatus(raw) {
	case "for sale", "sale", "sell":
		return TransactionSale
	case "for lease", "lease", "for rent", "rent", "for sub-lease":
		return TransactionLease
	default:
		return TransactionUnknown
	}
}

func normalizeStatus(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}
