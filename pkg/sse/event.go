package sse

import (
	"context"
	"errors"
	"sync"
)

// DefaultEventType is used when an event arrives without an event field.
var DefaultEventType = "message"

// CloseEventType tells clients the server is going away for good.
const CloseEventType = "close"

// Event is one Server-Sent Event.
type Event struct {
	ID    string `json:"id"`    // generated by the hub when empty
	Event string `json:"event"` // event type
	Data  any    `json:"data"`
}

// CheckValid reports whether e can be pushed.
func (e *Event) CheckValid() error {
	if e.Event == "" {
		return errors.New("sse: event type is empty")
	}
	if e.Data == nil {
		return errors.New("sse: event data is nil")
	}
	return nil
}

// CloseEvent returns the event sent to clients when the hub shuts down.
func CloseEvent() *Event {
	return &Event{
		Event: CloseEventType,
		Data:  "server closed connection, do not retry",
	}
}

// Store keeps published events so reconnecting clients can catch up.
type Store interface {
	Save(ctx context.Context, topic string, e *Event) error
	// Since returns the events of topic published after lastID, oldest first.
	// An unknown lastID yields every retained event.
	Since(ctx context.Context, topic string, lastID string) ([]*Event, error)
}

type storedEvent struct {
	topic string
	event *Event
}

// MemoryStore retains the most recent events in a fixed size ring.
type MemoryStore struct {
	mu     sync.Mutex
	events []storedEvent
	next   int
	full   bool
}

// NewMemoryStore creates a MemoryStore holding up to capacity events.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryStore{events: make([]storedEvent, capacity)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, topic string, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[s.next] = storedEvent{topic: topic, event: e}
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

// Since implements Store. An empty topic matches every topic.
func (s *MemoryStore) Since(_ context.Context, topic string, lastID string) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.ordered()
	start := 0
	for i, se := range ordered {
		if se.event.ID == lastID {
			start = i + 1
			break
		}
	}

	var out []*Event
	for _, se := range ordered[start:] {
		if topic == "" || se.topic == topic {
			out = append(out, se.event)
		}
	}
	return out, nil
}

func (s *MemoryStore) ordered() []storedEvent {
	if !s.full {
		return append([]storedEvent(nil), s.events[:s.next]...)
	}
	out := make([]storedEvent, 0, len(s.events))
	out = append(out, s.events[s.next:]...)
	return append(out, s.events[:s.next]...)
}
