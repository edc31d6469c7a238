// Package notify emits entry-metadata events as the core produces them,
// so that external indexing (which lives outside this package) can stay
// current. The dispatch mechanism mirrors the registry's own
// notifications eventQueue: an unbounded, goroutine-driven queue fed by
// Write and drained into a github.com/docker/go-events Sink, so callers
// of pack/re-pack are never blocked on a slow subscriber.
package notify

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	events "github.com/docker/go-events"
	"github.com/sirupsen/logrus"
)

// EventAction describes what happened to an entry.
type EventAction string

const (
	EventActionPacked    EventAction = "packed"
	EventActionRepacked  EventAction = "repacked"
	EventActionDeleted   EventAction = "deleted"
)

// Event is emitted once per entry as pack/re-pack processes it, and once
// per upload (with an empty EntryID) when delete removes it.
type Event struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	Action      EventAction `json:"action"`
	UploadID    string      `json:"upload_id"`
	EntryID     string      `json:"entry_id"`
	Mainfile    string      `json:"mainfile"`
	WithEmbargo bool        `json:"with_embargo"`
	ContentHash string      `json:"content_hash,omitempty"`
}

// ErrSinkClosed is returned by Queue.Write once Close has run.
var ErrSinkClosed = fmt.Errorf("notify: sink is closed")

// Queue accepts Events for asynchronous delivery to a single
// github.com/docker/go-events Sink. It is safe for concurrent use.
type Queue struct {
	sink   events.Sink
	events *list.List
	cond   *sync.Cond
	mu     sync.Mutex
	closed bool
}

// NewQueue starts a Queue draining into sink.
func NewQueue(sink events.Sink) *Queue {
	q := &Queue{sink: sink, events: list.New()}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Emit builds and enqueues an Event for entryID, stamping it with the
// given action and an id generated by the caller's uuid source.
func (q *Queue) Emit(id string, action EventAction, uploadID, entryID, mainfile string, withEmbargo bool, contentHash string) error {
	return q.Write(Event{
		ID:          id,
		Timestamp:   time.Now(),
		Action:      action,
		UploadID:    uploadID,
		EntryID:     entryID,
		Mainfile:    mainfile,
		WithEmbargo: withEmbargo,
		ContentHash: contentHash,
	})
}

// Write enqueues event, failing only if the queue has already been closed.
func (q *Queue) Write(event Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrSinkClosed
	}

	q.events.PushBack(event)
	q.cond.Signal()
	return nil
}

// Close drains any queued events to the sink and closes it. Idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cond.Signal()
	q.cond.Wait()
	q.mu.Unlock()

	return q.sink.Close()
}

func (q *Queue) run() {
	for {
		event, ok := q.next()
		if !ok {
			return
		}
		if err := q.sink.Write(event); err != nil {
			logrus.WithError(err).Warn("notify: dropping event, sink write failed")
		}
	}
}

func (q *Queue) next() (events.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.events.Len() < 1 {
		if q.closed {
			q.cond.Broadcast()
			return nil, false
		}
		q.cond.Wait()
	}

	front := q.events.Front()
	event := front.Value.(Event)
	q.events.Remove(front)
	return event, true
}
