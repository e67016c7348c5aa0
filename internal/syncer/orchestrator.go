package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/feed"
	"github.com/condoleads/condoleads-sub001/internal/listings"
	"github.com/condoleads/condoleads-sub001/internal/metrics"
	"github.com/condoleads/condoleads-sub001/internal/reconcile"
	"go.uber.org/zap"
)

const (
	defaultConcurrency    = 2
	defaultMaxConcurrency = 5
)

var (
	// ErrEntityInFlight indicates the entity is already being synced by another run.
	ErrEntityInFlight = errors.New("syncer: entity sync already in flight")
	// ErrFeedUnavailable indicates every feed query for the entity failed.
	ErrFeedUnavailable = errors.New("syncer: feed unavailable")
	// ErrCancelled indicates the run stopped because its batch was cancelled.
	ErrCancelled = errors.New("syncer: cancelled")
	// ErrBatchNotFound indicates an unknown or discarded batch.
	ErrBatchNotFound = errors.New("syncer: batch not found")
	// ErrItemNotFound indicates the entity is not part of the batch.
	ErrItemNotFound = errors.New("syncer: batch item not found")
	// ErrItemNotRetryable indicates a retry for an item that has not failed.
	ErrItemNotRetryable = errors.New("syncer: only failed items can be retried")
	// ErrEmptyBatch indicates a batch submission without entities.
	ErrEmptyBatch = errors.New("syncer: at least one entity is required")
	// ErrInvalidMode indicates an unknown sync mode.
	ErrInvalidMode = errors.New("syncer: invalid mode")

	errMissingFeed       = errors.New("syncer: feed is required")
	errMissingStore      = errors.New("syncer: store is required")
	errMissingApplier    = errors.New("syncer: applier is required")
	errMissingIDProvider = errors.New("syncer: id provider is required")
)

// Feed fetches raw records for an entity address.
type Feed interface {
	Fetch(ctx context.Context, address listings.Address) feed.Result
}

// Store is the storage the orchestrator reads snapshots from and records outcomes to.
type Store interface {
	GetEntity(ctx context.Context, entityID string) (listings.Entity, error)
	GetCurrentListings(ctx context.Context, entityID string) ([]listings.StoredListing, error)
	AppendSyncAudit(ctx context.Context, entry *listings.SyncAuditEntry) error
	UpdateEntitySyncState(ctx context.Context, entityID string, syncedAt time.Time, status listings.SyncStatus) error
}

// Applier writes a change set for one entity.
type Applier interface {
	Apply(ctx context.Context, entityID string, changes reconcile.ChangeSet) reconcile.ApplyResult
}

type Config struct {
	Feed               Feed
	Store              Store
	Applier            Applier
	Filter             *reconcile.FilterPipeline
	Categorizer        *reconcile.Categorizer
	IDProvider         listings.IDProvider
	Metrics            *metrics.Metrics
	Clock              func() time.Time
	Logger             *zap.Logger
	DefaultConcurrency int
	MaxConcurrency     int
}

// Orchestrator runs entity syncs alone or as bounded-concurrency batches.
type Orchestrator struct {
	feed               Feed
	store              Store
	applier            Applier
	filter             *reconcile.FilterPipeline
	categorizer        *reconcile.Categorizer
	idProvider         listings.IDProvider
	metrics            *metrics.Metrics
	clock              func() time.Time
	logger             *zap.Logger
	defaultConcurrency int
	maxConcurrency     int

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	batchesMu sync.RWMutex
	batches   map[string]*Batch
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Applier == nil {
		return nil, errMissingApplier
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	filter := cfg.Filter
	if filter == nil {
		filter = reconcile.NewFilterPipeline(reconcile.FilterConfig{
			ExcludedStatuses:    reconcile.DefaultExcludedStatuses,
			AllowPartialAddress: true,
		})
	}
	categorizer := cfg.Categorizer
	if categorizer == nil {
		categorizer = reconcile.NewCategorizer(reconcile.DefaultRecentWindow, clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	defaultWorkers := cfg.DefaultConcurrency
	if defaultWorkers <= 0 {
		defaultWorkers = defaultConcurrency
	}
	if defaultWorkers > maxConcurrency {
		defaultWorkers = maxConcurrency
	}

	return &Orchestrator{
		feed:               cfg.Feed,
		store:              cfg.Store,
		applier:            cfg.Applier,
		filter:             filter,
		categorizer:        categorizer,
		idProvider:         cfg.IDProvider,
		metrics:            cfg.Metrics,
		clock:              clock,
		logger:             logger,
		defaultConcurrency: defaultWorkers,
		maxConcurrency:     maxConcurrency,
		inFlight:           make(map[string]struct{}),
		batches:            make(map[string]*Batch),
	}, nil
}

// RunOptions describe one entity run.
type RunOptions struct {
	Mode    Mode
	BatchID string
}

// SyncEntity runs the full pipeline for one entity: fetch, dedupe, filter, optionally
// categorize, diff against the current snapshot and apply. Every run that gets past the
// in-flight check writes exactly one audit entry, fatal failures included. progress may be nil.
func (o *Orchestrator) SyncEntity(ctx context.Context, entityID string, options RunOptions, progress func(string)) (Stats, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if !o.acquire(entityID) {
		return Stats{}, ErrEntityInFlight
	}
	defer o.release(entityID)

	mode := options.Mode
	if mode == "" {
		mode = ModeFull
	}
	run := entityRun{
		orchestrator: o,
		entityID:     entityID,
		batchID:      options.BatchID,
		mode:         mode,
		startedAt:    o.clock().UTC(),
		progress:     progress,
		logger:       o.logger.With(zap.String("entity_id", entityID), zap.String("batch_id", options.BatchID)),
	}
	o.metrics.EntityStarted()

	stats, applyErrors, err := run.execute(ctx)
	return run.finish(stats, applyErrors, err)
}

type entityRun struct {
	orchestrator *Orchestrator
	entityID     string
	batchID      string
	mode         Mode
	startedAt    time.Time
	progress     func(string)
	logger       *zap.Logger
	// feedErr holds the failures of a fetch that still returned some records.
	feedErr error
}

func (r *entityRun) execute(ctx context.Context) (Stats, []reconcile.ApplyError, error) {
	o := r.orchestrator
	var stats Stats

	entity, err := o.store.GetEntity(ctx, r.entityID)
	if err != nil {
		return stats, nil, err
	}

	if ctx.Err() != nil {
		return stats, nil, ErrCancelled
	}
	r.progress("fetching listings from feed")
	fetched := o.feed.Fetch(ctx, entity.Address())
	if ctx.Err() != nil {
		return stats, nil, ErrCancelled
	}
	if fetched.AllFailed() {
		return stats, nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, fetched.Err())
	}
	var scope reconcile.RemovalScope
	for _, failure := range fetched.Failures {
		stats.FailedQueries = append(stats.FailedQueries, string(failure.Query))
		switch failure.Query {
		case feed.QueryActive:
			scope.ActiveMissing = true
		case feed.QueryCompleted:
			scope.CompletedMissing = true
		}
		r.progress(fmt.Sprintf("%s query failed, continuing with remaining results", failure.Query))
	}
	r.feedErr = fetched.Err()

	unique := reconcile.Deduplicate(fetched.Records)
	r.progress(fmt.Sprintf("fetched %d records, %d unique", len(fetched.Records), len(unique)))

	filtered, report, err := o.filter.Apply(entity.Address(), unique)
	if err != nil {
		return stats, nil, err
	}
	r.progress(fmt.Sprintf("%d records matched the entity address", report.AfterStatus))

	external := filtered
	if r.mode == ModeCategorized {
		categories := o.categorizer.Categorize(filtered)
		external = categories.All()
		stats.Categories = categories.Counts()
		r.progress(fmt.Sprintf("%d records categorized, %d outside every bucket", len(external), categories.Uncategorized))
	}
	stats.Found = len(external)

	stored, err := o.store.GetCurrentListings(ctx, r.entityID)
	if err != nil {
		return stats, nil, err
	}

	changes := reconcile.DiffWithin(external, stored, scope)
	stats.GuardTriggered = changes.GuardTriggered
	if changes.GuardTriggered {
		r.progress("feed returned no active listings, removals suppressed")
	}
	if changes.Retained > 0 {
		r.progress(fmt.Sprintf("%d listings kept because their feed query failed", changes.Retained))
	}
	r.progress(fmt.Sprintf("diff: %d new, %d changed, %d removed, %d unchanged",
		len(changes.ToInsert), len(changes.ToUpdate), len(changes.ToSoftDelete), len(changes.Unchanged)))

	if ctx.Err() != nil {
		return stats, nil, ErrCancelled
	}
	// Batch cancellation does not interrupt an apply in progress.
	result := o.applier.Apply(context.WithoutCancel(ctx), r.entityID, changes)
	stats.Created = result.Inserted
	stats.Updated = result.Updated
	stats.Removed = result.SoftDeleted
	stats.Unchanged = result.Unchanged
	stats.PriceChanges = result.PriceChanges
	stats.Errors = len(result.Errors)

	o.metrics.ListingChanges("insert", result.Inserted)
	o.metrics.ListingChanges("update", result.Updated)
	o.metrics.ListingChanges("soft_delete", result.SoftDeleted)
	o.metrics.ListingChanges("price_change", result.PriceChanges)

	return stats, result.Errors, nil
}

// finish records the audit entry and entity sync state for the run.
func (r *entityRun) finish(stats Stats, applyErrors []reconcile.ApplyError, runErr error) (Stats, error) {
	o := r.orchestrator
	ctx := context.Background()
	finishedAt := o.clock().UTC()

	status := listings.SyncStatusSuccess
	summary := ""
	switch {
	case runErr != nil:
		status = listings.SyncStatusFailed
		summary = runErr.Error()
	case len(applyErrors) > 0 || r.feedErr != nil:
		status = listings.SyncStatusPartial
		var parts []string
		if r.feedErr != nil {
			parts = append(parts, r.feedErr.Error())
		}
		if len(applyErrors) > 0 {
			parts = append(parts, reconcile.ApplyResult{Errors: applyErrors}.ErrorSummary())
		}
		summary = strings.Join(parts, "\n")
	}

	o.metrics.EntityFinished(string(status), finishedAt.Sub(r.startedAt))

	auditID, err := o.idProvider.NewID()
	if err != nil {
		r.logger.Error("audit id generation failed", zap.Error(err))
		return stats, errors.Join(runErr, err)
	}
	audit := listings.SyncAuditEntry{
		ID:           auditID,
		EntityID:     r.entityID,
		BatchID:      r.batchID,
		Mode:         string(r.mode),
		Found:        stats.Found,
		Created:      stats.Created,
		Updated:      stats.Updated,
		Removed:      stats.Removed,
		Unchanged:    stats.Unchanged,
		Status:       status,
		ErrorSummary: summary,
		StartedAt:    r.startedAt,
		FinishedAt:   finishedAt,
	}
	if err := o.store.AppendSyncAudit(ctx, &audit); err != nil {
		r.logger.Error("sync audit write failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	if err := o.store.UpdateEntitySyncState(ctx, r.entityID, finishedAt, status); err != nil {
		r.logger.Warn("entity sync state update failed", zap.Error(err))
	}

	if runErr != nil {
		r.logger.Warn("entity sync failed", zap.Error(runErr))
		return stats, runErr
	}
	r.logger.Info("entity sync finished",
		zap.String("status", string(status)),
		zap.Int("found", stats.Found),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("removed", stats.Removed),
		zap.Int("unchanged", stats.Unchanged),
		zap.Bool("guard_triggered", stats.GuardTriggered))
	return stats, nil
}

func (o *Orchestrator) acquire(entityID string) bool {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	if _, busy := o.inFlight[entityID]; busy {
		return false
	}
	o.inFlight[entityID] = struct{}{}
	return true
}

func (o *Orchestrator) release(entityID string) {
	o.inFlightMu.Lock()
	delete(o.inFlight, entityID)
	o.inFlightMu.Unlock()
}

// SubmitEntity starts a batch of one. The batch ID doubles as the job handle.
// An entity that is already running is rejected up front with ErrEntityInFlight.
func (o *Orchestrator) SubmitEntity(ctx context.Context, entityID string, mode Mode) (*Batch, error) {
	if o.InFlight(strings.TrimSpace(entityID)) {
		return nil, ErrEntityInFlight
	}
	return o.SubmitBatch(ctx, []string{entityID}, 1, mode)
}

// InFlight reports whether a run for the entity is currently executing.
func (o *Orchestrator) InFlight(entityID string) bool {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	_, busy := o.inFlight[entityID]
	return busy
}

// SubmitBatch queues the entities on a pool of concurrency workers and returns immediately.
// A concurrency of zero uses the default; larger values are capped at the maximum.
func (o *Orchestrator) SubmitBatch(ctx context.Context, entityIDs []string, concurrency int, mode Mode) (*Batch, error) {
	if mode == "" {
		mode = ModeFull
	}
	if mode != ModeFull && mode != ModeCategorized {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	seen := make(map[string]struct{}, len(entityIDs))
	items := make([]*QueueItem, 0, len(entityIDs))
	for _, raw := range entityIDs {
		entityID, err := listings.NewEntityID(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[entityID.String()]; dup {
			continue
		}
		seen[entityID.String()] = struct{}{}
		items = append(items, &QueueItem{
			EntityID:   entityID.String(),
			EntityName: o.entityName(ctx, entityID.String()),
			Status:     ItemQueued,
		})
	}
	if len(items) == 0 {
		return nil, ErrEmptyBatch
	}

	if concurrency <= 0 {
		concurrency = o.defaultConcurrency
	}
	if concurrency > o.maxConcurrency {
		concurrency = o.maxConcurrency
	}

	batchID, err := o.idProvider.NewID()
	if err != nil {
		return nil, err
	}
	batch := newBatch(batchID, mode, concurrency, o.clock, items)

	o.batchesMu.Lock()
	o.batches[batchID] = batch
	o.batchesMu.Unlock()

	batch.log.publish(Event{Type: EventQueue, Total: len(items), Concurrency: concurrency})
	go batch.aggregate()
	for _, item := range items {
		entityID := item.EntityID
		batch.submit(func() { o.runItem(batch, entityID) })
	}

	o.logger.Info("sync batch submitted",
		zap.String("batch_id", batchID),
		zap.Int("entities", len(items)),
		zap.Int("concurrency", concurrency),
		zap.String("mode", string(mode)))
	return batch, nil
}

func (o *Orchestrator) entityName(ctx context.Context, entityID string) string {
	entity, err := o.store.GetEntity(ctx, entityID)
	if err != nil {
		return entityID
	}
	return entity.DisplayName()
}

// runItem is one worker pull: it honors cancellation, runs the entity and reports the outcome.
func (o *Orchestrator) runItem(batch *Batch, entityID string) {
	if batch.ctx.Err() != nil {
		o.failItem(batch, entityID, ErrCancelled)
		return
	}

	item := batch.updateItem(entityID, func(item *QueueItem) {
		item.Status = ItemRunning
		item.Attempts++
		item.LastMessage = "running"
	})
	batch.log.publish(Event{Type: EventEntityStart, EntityID: entityID, EntityName: item.EntityName})

	progress := func(message string) {
		batch.updateItem(entityID, func(item *QueueItem) { item.LastMessage = message })
		batch.log.publish(Event{Type: EventEntityProgress, EntityID: entityID, Message: message})
	}

	stats, err := o.SyncEntity(batch.ctx, entityID, RunOptions{Mode: batch.mode, BatchID: batch.id}, progress)
	if err != nil {
		o.failItem(batch, entityID, err)
		return
	}

	finished := batch.updateItem(entityID, func(item *QueueItem) {
		item.Status = ItemComplete
		item.LastMessage = "complete"
		item.Error = ""
		statsCopy := stats
		item.Stats = &statsCopy
	})
	batch.log.publish(Event{Type: EventEntityComplete, EntityID: entityID, EntityName: finished.EntityName, Stats: finished.Stats})
	batch.report(batchSignal{kind: signalFinished, succeeded: true, found: stats.Found})
}

func (o *Orchestrator) failItem(batch *Batch, entityID string, err error) {
	failed := batch.updateItem(entityID, func(item *QueueItem) {
		item.Status = ItemError
		item.Error = err.Error()
		item.LastMessage = "error"
	})
	batch.log.publish(Event{Type: EventEntityError, EntityID: entityID, EntityName: failed.EntityName, Error: failed.Error})
	batch.report(batchSignal{kind: signalFinished, succeeded: false})
}

// RetryItem re-queues one failed item of a batch. Only that item runs again.
func (o *Orchestrator) RetryItem(ctx context.Context, batchID, entityID string) error {
	batch, ok := o.Batch(batchID)
	if !ok {
		return ErrBatchNotFound
	}
	if batch.ctx.Err() != nil {
		return ErrCancelled
	}
	item, ok := batch.item(entityID)
	if !ok {
		return ErrItemNotFound
	}

	name := o.entityName(ctx, entityID)

	batch.mu.Lock()
	if item.Status != ItemError {
		batch.mu.Unlock()
		return ErrItemNotRetryable
	}
	item.Status = ItemQueued
	item.Error = ""
	item.Stats = nil
	item.LastMessage = "queued for retry"
	if name != entityID {
		item.EntityName = name
	}
	batch.mu.Unlock()

	batch.log.reopen()
	batch.report(batchSignal{kind: signalRetry})
	batch.log.publish(Event{Type: EventEntityProgress, EntityID: entityID, Message: "queued for retry"})
	if !batch.submit(func() { o.runItem(batch, entityID) }) {
		return ErrBatchNotFound
	}
	o.logger.Info("sync batch item retried", zap.String("batch_id", batchID), zap.String("entity_id", entityID))
	return nil
}

// Batch looks up a retained batch.
func (o *Orchestrator) Batch(batchID string) (*Batch, bool) {
	o.batchesMu.RLock()
	defer o.batchesMu.RUnlock()
	batch, ok := o.batches[batchID]
	return batch, ok
}

// Batches returns snapshots of every retained batch, newest first.
func (o *Orchestrator) Batches() []BatchSnapshot {
	o.batchesMu.RLock()
	batches := make([]*Batch, 0, len(o.batches))
	for _, batch := range o.batches {
		batches = append(batches, batch)
	}
	o.batchesMu.RUnlock()

	snapshots := make([]BatchSnapshot, 0, len(batches))
	for _, batch := range batches {
		snapshots = append(snapshots, batch.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return strings.Compare(snapshots[i].ID, snapshots[j].ID) > 0
		}
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots
}

// Discard cancels a batch, waits for its running items and forgets it.
func (o *Orchestrator) Discard(batchID string) error {
	o.batchesMu.Lock()
	batch, ok := o.batches[batchID]
	if ok {
		delete(o.batches, batchID)
	}
	o.batchesMu.Unlock()
	if !ok {
		return ErrBatchNotFound
	}
	batch.discard()
	o.logger.Info("sync batch discarded", zap.String("batch_id", batchID))
	return nil
}

// Shutdown discards every batch.
func (o *Orchestrator) Shutdown() {
	o.batchesMu.RLock()
	ids := make([]string, 0, len(o.batches))
	for id := range o.batches {
		ids = append(ids, id)
	}
	o.batchesMu.RUnlock()
	for _, id := range ids {
		_ = o.Discard(id)
	}
}
