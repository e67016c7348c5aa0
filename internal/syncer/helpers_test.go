package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/database"
	"github.com/condoleads/condoleads-sub001/internal/feed"
	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/condoleads/condoleads-sub001/internal/reconcile"
	"github.com/condoleads/condoleads-sub001/internal/store"
	"go.uber.org/zap"
)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%04d", g.next), nil
}

// scriptedFeed answers fetches from a per-street-number script and tracks concurrency.
type scriptedFeed struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(address listings.Address, call int) feed.Result
	delay   time.Duration
	block   chan struct{}

	running    atomic.Int32
	maxRunning atomic.Int32
}

func newScriptedFeed(respond func(address listings.Address, call int) feed.Result) *scriptedFeed {
	return &scriptedFeed{calls: map[string]int{}, respond: respond}
}

func (f *scriptedFeed) Fetch(ctx context.Context, address listings.Address) feed.Result {
	current := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		observed := f.maxRunning.Load()
		if current <= observed || f.maxRunning.CompareAndSwap(observed, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls[address.StreetNumber]++
	call := f.calls[address.StreetNumber]
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return outage(ctx.Err())
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return outage(ctx.Err())
		}
	}
	return f.respond(address, call)
}

func (f *scriptedFeed) callCount(streetNumber string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[streetNumber]
}

func success(records ...listings.ListingRecord) feed.Result {
	return feed.Result{
		Records: records,
		Queries: []feed.Query{feed.QueryActive, feed.QueryCompleted},
		Counts:  map[feed.Query]int{feed.QueryActive: len(records)},
	}
}

func outage(err error) feed.Result {
	return feed.Result{
		Queries: []feed.Query{feed.QueryActive, feed.QueryCompleted},
		Failures: []feed.QueryFailure{
			{Query: feed.QueryActive, Err: err},
			{Query: feed.QueryCompleted, Err: err},
		},
	}
}

func activeSale(streetNumber, key string, price float64) listings.ListingRecord {
	return listings.ListingRecord{
		ListingKey:      key,
		StreetNumber:    streetNumber,
		StreetName:      "Harbour",
		StreetSuffix:    "St",
		City:            "Toronto",
		TransactionType: "For Sale",
		StandardStatus:  "Active",
		MlsStatus:       "New",
		ListPrice:       price,
	}
}

type testEnv struct {
	orchestrator *Orchestrator
	store        *store.Store
	now          time.Time
}

func newTestEnv(t *testing.T, source Feed, maxConcurrency int) testEnv {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "syncer.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	listingStore, err := store.New(store.Config{Database: db})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ids := &sequentialIDs{}
	applier, err := reconcile.NewApplier(reconcile.ApplyConfig{Store: listingStore, Clock: clock, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to create applier: %v", err)
	}
	orchestrator, err := New(Config{
		Feed:           source,
		Store:          listingStore,
		Applier:        applier,
		IDProvider:     ids,
		Clock:          clock,
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	t.Cleanup(orchestrator.Shutdown)
	return testEnv{orchestrator: orchestrator, store: listingStore, now: now}
}

func (e testEnv) seedEntity(t *testing.T, id, streetNumber string) {
	t.Helper()
	entity := listings.Entity{ID: id, Name: "Building " + streetNumber, StreetNumber: streetNumber, StreetName: "Harbour St", City: "Toronto"}
	if err := e.store.CreateEntity(context.Background(), &entity); err != nil {
		t.Fatalf("failed to seed entity: %v", err)
	}
}

// waitForComplete collects events until the batch emits its complete event.
func waitForComplete(t *testing.T, batch *Batch) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var events []Event
	for event := range batch.Subscribe(ctx) {
		events = append(events, event)
		if event.Type == EventComplete {
			return events
		}
	}
	t.Fatalf("batch did not complete; received %d events", len(events))
	return nil
}
