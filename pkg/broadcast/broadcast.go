// Package broadcast carries "token changed" events to listeners that never
// obtained a direct reference to a token manager.
package broadcast

import (
	"context"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// EventName names the token rotation event on every channel.
const EventName = "widget-token"

// Event is emitted after every successful mint or refresh.
type Event struct {
	Name       string    `json:"name"`
	Token      string    `json:"token"`
	OwnerToken string    `json:"ownerToken"`
	APIBase    string    `json:"apiBase"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// Broadcaster publishes events. Implementations must be safe for concurrent use.
type Broadcaster interface {
	Broadcast(ctx context.Context, e Event) error
}

// Func adapts a function to Broadcaster.
type Func func(ctx context.Context, e Event) error

// Broadcast calls f.
func (f Func) Broadcast(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Nop drops every event.
type Nop struct{}

// Broadcast implements Broadcaster.
func (Nop) Broadcast(context.Context, Event) error { return nil }

// Multi sends each event to every broadcaster, even when some fail.
type Multi []Broadcaster

// Broadcast implements Broadcaster. Errors are aggregated.
func (m Multi) Broadcast(ctx context.Context, e Event) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Broadcast(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}
