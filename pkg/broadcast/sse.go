package broadcast

import (
	"context"

	"github.com/moweilong/widgetauth/pkg/sse"
)

// TopicFunc picks the SSE topic of an event.
type TopicFunc func(e Event) string

// SSEOption configures an SSE broadcaster.
type SSEOption func(*SSE)

// WithPayload maps each event to the data sent to SSE subscribers. By
// default the event itself is sent.
func WithPayload(fn func(e Event) any) SSEOption {
	return func(s *SSE) {
		if fn != nil {
			s.payload = fn
		}
	}
}

// SSE pushes events to Server-Sent Event subscribers of a hub.
type SSE struct {
	hub     *sse.Hub
	topic   TopicFunc
	payload func(e Event) any
}

// NewSSE creates an SSE broadcaster. A nil topic publishes to every subscriber.
func NewSSE(hub *sse.Hub, topic TopicFunc, opts ...SSEOption) *SSE {
	if topic == nil {
		topic = func(Event) string { return "" }
	}
	s := &SSE{hub: hub, topic: topic, payload: func(e Event) any { return e }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Broadcast implements Broadcaster.
func (s *SSE) Broadcast(_ context.Context, e Event) error {
	return s.hub.Publish(s.topic(e), &sse.Event{Event: EventName, Data: s.payload(e)})
}
