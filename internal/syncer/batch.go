package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
)

// ItemStatus is the lifecycle state of one queue item: queued, running, then complete or error.
type ItemStatus string

const (
	ItemQueued   ItemStatus = "queued"
	ItemRunning  ItemStatus = "running"
	ItemComplete ItemStatus = "complete"
	ItemError    ItemStatus = "error"
)

// QueueItem is a snapshot of one entity in a batch.
type QueueItem struct {
	EntityID    string     `json:"entityId"`
	EntityName  string     `json:"entityName"`
	Status      ItemStatus `json:"status"`
	LastMessage string     `json:"lastMessage,omitempty"`
	Error       string     `json:"error,omitempty"`
	Stats       *Stats     `json:"stats,omitempty"`
	Attempts    int        `json:"attempts"`
}

// BatchSnapshot is a point-in-time view of a batch.
type BatchSnapshot struct {
	ID          string      `json:"id"`
	Mode        Mode        `json:"mode"`
	Concurrency int         `json:"concurrency"`
	Total       int         `json:"total"`
	Pending     int         `json:"pending"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	GrandTotal  int         `json:"grandTotal"`
	Done        bool        `json:"done"`
	Cancelled   bool        `json:"cancelled"`
	CreatedAt   time.Time   `json:"createdAt"`
	FinishedAt  *time.Time  `json:"finishedAt,omitempty"`
	Items       []QueueItem `json:"items"`
}

type signalKind int

const (
	signalFinished signalKind = iota
	signalRetry
)

// batchSignal is what workers and retries report to the aggregator.
type batchSignal struct {
	kind      signalKind
	succeeded bool
	found     int
}

// Batch is a set of entity syncs sharing one worker pool and one progress stream.
// Counters are written only by the aggregator goroutine.
type Batch struct {
	id          string
	mode        Mode
	concurrency int
	createdAt   time.Time
	clock       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	pool    *workerpool.WorkerPool
	log     *eventLog
	signals chan batchSignal
	stopped chan struct{}

	mu         sync.Mutex
	items      []*QueueItem
	index      map[string]*QueueItem
	pending    int
	succeeded  int
	failed     int
	grandTotal int
	startedAt  time.Time
	finishedAt *time.Time
	discarded  bool
}

func newBatch(id string, mode Mode, concurrency int, clock func() time.Time, items []*QueueItem) *Batch {
	ctx, cancel := context.WithCancel(context.Background())
	now := clock().UTC()
	index := make(map[string]*QueueItem, len(items))
	for _, item := range items {
		index[item.EntityID] = item
	}
	return &Batch{
		id:          id,
		mode:        mode,
		concurrency: concurrency,
		createdAt:   now,
		clock:       clock,
		ctx:         ctx,
		cancel:      cancel,
		pool:        workerpool.New(concurrency),
		log:         newEventLog(id, clock),
		signals:     make(chan batchSignal),
		stopped:     make(chan struct{}),
		items:       items,
		index:       index,
		pending:     len(items),
		startedAt:   now,
	}
}

func (b *Batch) ID() string {
	return b.id
}

func (b *Batch) Mode() Mode {
	return b.mode
}

// Subscribe replays every event so far and then follows the batch until it completes or
// ctx is done. Dropping the subscription does not stop the batch.
func (b *Batch) Subscribe(ctx context.Context) <-chan Event {
	return b.log.subscribe(ctx)
}

// Events returns the events recorded so far.
func (b *Batch) Events() []Event {
	return b.log.snapshot()
}

// Cancel stops the batch at the next queue pull or feed call. Items that have not started
// finish as errors; a run already applying changes completes its apply.
func (b *Batch) Cancel() {
	b.cancel()
}

// Done is closed once the batch is discarded.
func (b *Batch) Done() <-chan struct{} {
	return b.stopped
}

func (b *Batch) Snapshot() BatchSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := make([]QueueItem, 0, len(b.items))
	for _, item := range b.items {
		copied := *item
		items = append(items, copied)
	}
	snapshot := BatchSnapshot{
		ID:          b.id,
		Mode:        b.mode,
		Concurrency: b.concurrency,
		Total:       len(b.items),
		Pending:     b.pending,
		Succeeded:   b.succeeded,
		Failed:      b.failed,
		GrandTotal:  b.grandTotal,
		Done:        b.pending == 0,
		Cancelled:   b.ctx.Err() != nil,
		CreatedAt:   b.createdAt,
		Items:       items,
	}
	if b.finishedAt != nil {
		finished := *b.finishedAt
		snapshot.FinishedAt = &finished
	}
	return snapshot
}

func (b *Batch) item(entityID string) (*QueueItem, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.index[entityID]
	return item, ok
}

func (b *Batch) updateItem(entityID string, mutate func(*QueueItem)) QueueItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	item := b.index[entityID]
	mutate(item)
	return *item
}

// report hands a signal to the aggregator unless the batch has been discarded.
func (b *Batch) report(signal batchSignal) {
	select {
	case b.signals <- signal:
	case <-b.stopped:
	}
}

// aggregate owns the batch counters and emits the final complete event whenever the
// pending count drops to zero. A retry re-raises the count and a later completion
// emits a fresh complete event.
func (b *Batch) aggregate() {
	for {
		select {
		case <-b.stopped:
			return
		case signal := <-b.signals:
			b.mu.Lock()
			switch signal.kind {
			case signalRetry:
				b.pending++
				b.failed--
				b.finishedAt = nil
			case signalFinished:
				b.pending--
				if signal.succeeded {
					b.succeeded++
					b.grandTotal += signal.found
				} else {
					b.failed++
				}
			}
			pending := b.pending
			var complete *Event
			if pending == 0 && signal.kind == signalFinished {
				finished := b.clock().UTC()
				b.finishedAt = &finished
				complete = &Event{
					Type:            EventComplete,
					Succeeded:       b.succeeded,
					Failed:          b.failed,
					GrandTotal:      b.grandTotal,
					DurationSeconds: finished.Sub(b.startedAt).Seconds(),
				}
			}
			b.mu.Unlock()

			if complete != nil {
				b.log.publish(*complete)
				b.log.close()
			}
		}
	}
}

// submit queues work on the pool; it is a no-op once the batch has been discarded.
func (b *Batch) submit(task func()) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.discarded {
		return false
	}
	b.pool.Submit(task)
	return true
}

// discard cancels outstanding work, waits for running tasks and stops the aggregator.
func (b *Batch) discard() {
	b.mu.Lock()
	if b.discarded {
		b.mu.Unlock()
		return
	}
	b.discarded = true
	b.mu.Unlock()

	b.cancel()
	b.pool.Stop()
	close(b.stopped)
	b.log.close()
}
