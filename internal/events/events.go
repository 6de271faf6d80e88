// Package events fans job progress out to live subscribers.
package events

import (
	"sync"
	"time"
)

// EventType classifies messages emitted while a job runs.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
)

// Event is a sequenced payload for websocket subscribers.
type Event struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	JobID     string    `json:"job_id"`
	Type      EventType `json:"type"`
	Status    string    `json:"status,omitempty"`
	Progress  int       `json:"progress"`
	Step      string    `json:"step,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Terminal reports whether no further events follow for the job.
func (e Event) Terminal() bool {
	return e.Type == EventTypeResult || e.Type == EventTypeError
}

type subscriber struct {
	jobID string
	ch    chan Event
}

// Hub keeps a bounded history and delivers new events to subscribers.
// A subscriber that is not keeping up loses events instead of blocking Publish.
type Hub struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Event
	subscribers map[*subscriber]struct{}
	buffer      int
}

// NewHub creates a hub remembering up to maxEvents events.
func NewHub(maxEvents int) *Hub {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Hub{
		maxEvents:   maxEvents,
		events:      make([]Event, 0, maxEvents),
		subscribers: make(map[*subscriber]struct{}),
		buffer:      32,
	}
}

// Publish assigns sequence and timestamp and delivers the event.
func (h *Hub) Publish(event Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event.Seq = h.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.events = append(h.events, event)
	if len(h.events) > h.maxEvents {
		trim := len(h.events) - h.maxEvents
		h.events = append([]Event(nil), h.events[trim:]...)
	}

	for sub := range h.subscribers {
		if sub.jobID != "" && sub.jobID != event.JobID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}

	return event
}

// Since returns remembered events for jobID (all jobs when empty) with
// sequence strictly greater than seq.
func (h *Hub) Since(jobID string, seq int64) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Event
	for _, event := range h.events {
		if event.Seq > seq && (jobID == "" || event.JobID == jobID) {
			out = append(out, event)
		}
	}
	return out
}

// Subscribe returns a channel of future events for jobID (all jobs when empty)
// and a function that ends the subscription and closes the channel.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	sub := &subscriber{jobID: jobID, ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
