package syncer

import (
	"context"
	"sync"
	"time"
)

// eventLog keeps every event of a batch and fans them out to subscribers. Subscribers
// read from the log with their own cursor, so a slow reader never loses events and
// never blocks the writer.
type eventLog struct {
	mu          sync.Mutex
	batchID     string
	clock       func() time.Time
	events      []Event
	nextSeq     int64
	closed      bool
	subscribers map[int64]*logSubscriber
	nextID      int64
}

type logSubscriber struct {
	id     int64
	notify chan struct{}
}

func newEventLog(batchID string, clock func() time.Time) *eventLog {
	return &eventLog{
		batchID:     batchID,
		clock:       clock,
		subscribers: make(map[int64]*logSubscriber),
	}
}

// publish stamps the event with the batch ID, the next sequence number and a timestamp.
func (l *eventLog) publish(event Event) Event {
	l.mu.Lock()
	l.nextSeq++
	event.BatchID = l.batchID
	event.Seq = l.nextSeq
	event.Timestamp = l.clock().UTC()
	l.events = append(l.events, event)
	subscribers := l.snapshotSubscribersLocked()
	l.mu.Unlock()

	signal(subscribers)
	return event
}

// close marks the stream finished; subscribers drain what is left and their channels close.
func (l *eventLog) close() {
	l.mu.Lock()
	l.closed = true
	subscribers := l.snapshotSubscribersLocked()
	l.mu.Unlock()
	signal(subscribers)
}

// reopen lets new events follow a finished stream, as happens when an item is retried.
func (l *eventLog) reopen() {
	l.mu.Lock()
	l.closed = false
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// subscribe replays the log from the start and then follows live events until the log is
// closed or ctx is done. Cancelling a subscription never affects the batch.
func (l *eventLog) subscribe(ctx context.Context) <-chan Event {
	subscriber := &logSubscriber{notify: make(chan struct{}, 1)}
	l.mu.Lock()
	l.nextID++
	subscriber.id = l.nextID
	l.subscribers[subscriber.id] = subscriber
	l.mu.Unlock()

	stream := make(chan Event)
	go func() {
		defer close(stream)
		defer l.unregister(subscriber.id)

		cursor := 0
		for {
			l.mu.Lock()
			pending := append([]Event(nil), l.events[cursor:]...)
			closed := l.closed
			l.mu.Unlock()

			for _, event := range pending {
				select {
				case stream <- event:
					cursor++
				case <-ctx.Done():
					return
				}
			}
			if closed && len(pending) == 0 {
				return
			}
			if len(pending) > 0 {
				continue
			}
			select {
			case <-subscriber.notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return stream
}

func (l *eventLog) unregister(id int64) {
	l.mu.Lock()
	delete(l.subscribers, id)
	l.mu.Unlock()
}

func (l *eventLog) snapshotSubscribersLocked() []*logSubscriber {
	copies := make([]*logSubscriber, 0, len(l.subscribers))
	for _, subscriber := range l.subscribers {
		copies = append(copies, subscriber)
	}
	return copies
}

func signal(subscribers []*logSubscriber) {
	for _, subscriber := range subscribers {
		select {
		case subscriber.notify <- struct{}{}:
		default:
		}
	}
}
