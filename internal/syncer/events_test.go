package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestEventMarshalJSONIncludesTypeSpecificFields(t *testing.T) {
	timestamp := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	testCases := []struct {
		name     string
		event    Event
		expected []string
		absent   []string
	}{
		{
			name:     "queue",
			event:    Event{Type: EventQueue, BatchID: "b1", Seq: 1, Total: 3, Concurrency: 2, Timestamp: timestamp},
			expected: []string{"type", "batchId", "seq", "timestamp", "total", "concurrency"},
			absent:   []string{"entityId", "stats", "message"},
		},
		{
			name:     "entity progress",
			event:    Event{Type: EventEntityProgress, BatchID: "b1", Seq: 2, EntityID: "e1", Message: "fetching", Timestamp: timestamp},
			expected: []string{"entityId", "message"},
			absent:   []string{"total", "entityName", "error"},
		},
		{
			name:     "entity complete",
			event:    Event{Type: EventEntityComplete, BatchID: "b1", Seq: 3, EntityID: "e1", EntityName: "One", Stats: &Stats{Found: 4}, Timestamp: timestamp},
			expected: []string{"entityId", "entityName", "stats"},
			absent:   []string{"error", "grandTotal"},
		},
		{
			name:     "entity error",
			event:    Event{Type: EventEntityError, BatchID: "b1", Seq: 4, EntityID: "e1", EntityName: "One", Error: "boom", Timestamp: timestamp},
			expected: []string{"entityName", "error"},
			absent:   []string{"stats"},
		},
		{
			name:     "complete",
			event:    Event{Type: EventComplete, BatchID: "b1", Seq: 5, Succeeded: 2, Failed: 1, GrandTotal: 9, DurationSeconds: 1.5, Timestamp: timestamp},
			expected: []string{"succeeded", "failed", "grandTotal", "durationSeconds"},
			absent:   []string{"entityId", "message"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			encoded, err := json.Marshal(testCase.event)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}
			var decoded map[string]any
			if err := json.Unmarshal(encoded, &decoded); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			for _, key := range testCase.expected {
				if _, ok := decoded[key]; !ok {
					t.Fatalf("expected key %q in %s", key, encoded)
				}
			}
			for _, key := range testCase.absent {
				if _, ok := decoded[key]; ok {
					t.Fatalf("did not expect key %q in %s", key, encoded)
				}
			}
			if decoded["type"] != string(testCase.event.Type) {
				t.Fatalf("unexpected type %v", decoded["type"])
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	testCases := []struct {
		raw      string
		expected Mode
		invalid  bool
	}{
		{raw: "", expected: ModeFull},
		{raw: "FULL", expected: ModeFull},
		{raw: " categorized ", expected: ModeCategorized},
		{raw: "everything", invalid: true},
	}
	for _, testCase := range testCases {
		mode, err := ParseMode(testCase.raw)
		if testCase.invalid {
			if !errors.Is(err, ErrInvalidMode) {
				t.Fatalf("expected ErrInvalidMode for %q, got %v", testCase.raw, err)
			}
			continue
		}
		if err != nil || mode != testCase.expected {
			t.Fatalf("ParseMode(%q) = %q, %v", testCase.raw, mode, err)
		}
	}
}

func TestEventLogReplaysAfterClose(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) }
	log := newEventLog("batch-1", clock)
	log.publish(Event{Type: EventQueue, Total: 1})
	log.publish(Event{Type: EventEntityStart, EntityID: "e1"})
	log.publish(Event{Type: EventComplete, Succeeded: 1})
	log.close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var received []Event
	for event := range log.subscribe(ctx) {
		received = append(received, event)
	}
	if len(received) != 3 {
		t.Fatalf("expected full replay, got %d events", len(received))
	}
	for index, event := range received {
		if event.Seq != int64(index+1) || event.BatchID != "batch-1" {
			t.Fatalf("unexpected stamped event %+v", event)
		}
	}
}

func TestEventLogFollowsLiveEvents(t *testing.T) {
	log := newEventLog("batch-1", time.Now)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream := log.subscribe(ctx)
	log.publish(Event{Type: EventQueue})
	first := <-stream
	if first.Type != EventQueue {
		t.Fatalf("expected queue event, got %+v", first)
	}

	log.publish(Event{Type: EventComplete})
	log.close()
	second, ok := <-stream
	if !ok || second.Type != EventComplete {
		t.Fatalf("expected complete event before close, got %+v (open=%v)", second, ok)
	}
	if _, open := <-stream; open {
		t.Fatalf("expected stream to close after the log is closed")
	}
}

func TestEventLogSubscriberCancellation(t *testing.T) {
	log := newEventLog("batch-1", time.Now)
	ctx, cancel := context.WithCancel(context.Background())
	stream := log.subscribe(ctx)
	cancel()

	select {
	case _, open := <-stream:
		if open {
			t.Fatalf("expected no events after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected stream to close after cancellation")
	}
	log.publish(Event{Type: EventQueue})
	if len(log.snapshot()) != 1 {
		t.Fatalf("publishing must continue after a subscriber leaves")
	}
}
