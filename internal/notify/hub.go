// Package notify fans out job-row mutation events to interested observers.
//
// Every job store mutation publishes one Event keyed by job id. Observers
// subscribe by id and receive a stream of events until they unsubscribe.
// Publishing never blocks: a subscriber that falls behind loses events
// rather than stalling the worker.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/costwise/pricingjobs/internal/jobs"
)

// EventKind names the mutation that produced an event.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventClaimed   EventKind = "claimed"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is one job-row mutation pushed to subscribers.
type Event struct {
	JobID uuid.UUID `json:"job_id"`
	Kind  EventKind `json:"kind"`
	Job   jobs.Job  `json:"job"`
	At    time.Time `json:"at"`
}

// Publisher is the write side of the progress feed. The job store publishes
// through this interface so that in-process and cross-instance fan-out can
// be composed freely.
type Publisher interface {
	Publish(ev Event)
}

// subscriberBuffer is the channel depth per subscriber. A job emits one event
// per batch boundary plus a handful of lifecycle events, so a small buffer
// absorbs bursts without unbounded memory.
const subscriberBuffer = 16

// Hub is an in-process publish/subscribe channel keyed by job id.
// The zero value is not usable; call NewHub.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[uuid.UUID]map[int]chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[int]chan Event)}
}

// Subscribe opens an event stream for one job id. The returned cancel
// function must be called to release the stream; it closes the channel and
// is safe to call more than once.
func (h *Hub) Subscribe(jobID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[int]chan Event)
	}
	h.subs[jobID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if m, ok := h.subs[jobID]; ok {
				delete(m, id)
				if len(m) == 0 {
					delete(h.subs, jobID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of ev.JobID. Delivery is
// best-effort: full subscriber channels are skipped.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[ev.JobID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of open streams for a job id.
func (h *Hub) SubscriberCount(jobID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

// Fanout composes multiple publishers into one.
type Fanout []Publisher

// Publish forwards ev to each composed publisher in order.
func (f Fanout) Publish(ev Event) {
	for _, p := range f {
		p.Publish(ev)
	}
}
