package jobs

import (
	"sync"
	"time"

	"github.com/MrWong99/stepforge/internal/pipeline"
)

// EventType classifies an [Event].
type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
)

// DefaultEventHistory is the number of events an [EventBus] keeps when
// constructed with a non-positive limit.
const DefaultEventHistory = 500

// Event is one entry of the job event stream. Seq is strictly increasing
// across all jobs of a bus.
type Event struct {
	Seq       uint64             `json:"seq"`
	Timestamp time.Time          `json:"timestamp"`
	JobID     string             `json:"job_id"`
	Type      EventType          `json:"type"`
	Status    Status             `json:"status,omitempty"`
	Progress  *pipeline.Progress `json:"progress,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// EventBus keeps a bounded, sequenced history of job events.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   uint64
	maxEvents int
	events    []Event
}

// NewEventBus returns a bus that retains at most maxEvents events.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = DefaultEventHistory
	}
	return &EventBus{
		nextSeq:   1,
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish assigns the next sequence number and a UTC timestamp to e, stores
// it and returns the stored copy.
func (b *EventBus) Publish(e Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	e.Seq = b.nextSeq
	b.nextSeq++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, e)
	if len(b.events) > b.maxEvents {
		drop := len(b.events) - b.maxEvents
		b.events = append(b.events[:0:0], b.events[drop:]...)
	}
	return e
}

// Since returns the retained events of jobID with a sequence number greater
// than seq, oldest first. An empty jobID matches every job.
func (b *EventBus) Since(jobID string, seq uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range b.events {
		if e.Seq <= seq {
			continue
		}
		if jobID != "" && e.JobID != jobID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// LastSeq returns the sequence number of the newest event, or 0.
func (b *EventBus) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq - 1
}
