package syncer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mode selects how much of the feed snapshot is reconciled.
type Mode string

const (
	// ModeFull reconciles every record that survives the filters.
	ModeFull Mode = "full"
	// ModeCategorized reconciles only records that land in one of the six display buckets.
	ModeCategorized Mode = "categorized"
)

// ParseMode maps a request value to a Mode; empty means full.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeCategorized:
		return ModeCategorized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}

type EventType string

const (
	EventQueue          EventType = "queue"
	EventEntityStart    EventType = "entity_start"
	EventEntityProgress EventType = "entity_progress"
	EventEntityComplete EventType = "entity_complete"
	EventEntityError    EventType = "entity_error"
	EventComplete       EventType = "complete"
)

// Stats summarizes one entity run.
type Stats struct {
	Found          int            `json:"found"`
	Created        int            `json:"created"`
	Updated        int            `json:"updated"`
	Removed        int            `json:"removed"`
	Unchanged      int            `json:"unchanged"`
	PriceChanges   int            `json:"priceChanges"`
	Errors         int            `json:"errors"`
	GuardTriggered bool           `json:"guardTriggered"`
	FailedQueries  []string       `json:"failedQueries,omitempty"`
	Categories     map[string]int `json:"categories,omitempty"`
}

// Event is one entry of a batch progress stream. Seq increases across the whole batch, and
// every entity-scoped event names its entity so interleaved workers can be told apart.
type Event struct {
	Type            EventType
	BatchID         string
	Seq             int64
	EntityID        string
	EntityName      string
	Message         string
	Error           string
	Stats           *Stats
	Total           int
	Concurrency     int
	Succeeded       int
	Failed          int
	GrandTotal      int
	DurationSeconds float64
	Timestamp       time.Time
}

// MarshalJSON emits only the fields that belong to the event's type.
func (e Event) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"type":      e.Type,
		"batchId":   e.BatchID,
		"seq":       e.Seq,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.EntityID != "" {
		payload["entityId"] = e.EntityID
	}
	switch e.Type {
	case EventQueue:
		payload["total"] = e.Total
		payload["concurrency"] = e.Concurrency
	case EventEntityStart:
		payload["entityName"] = e.EntityName
	case EventEntityProgress:
		payload["message"] = e.Message
	case EventEntityComplete:
		payload["entityName"] = e.EntityName
		payload["stats"] = e.Stats
	case EventEntityError:
		payload["entityName"] = e.EntityName
		payload["error"] = e.Error
	case EventComplete:
		payload["succeeded"] = e.Succeeded
		payload["failed"] = e.Failed
		payload["grandTotal"] = e.GrandTotal
		payload["durationSeconds"] = e.DurationSeconds
	}
	return json.Marshal(payload)
}
