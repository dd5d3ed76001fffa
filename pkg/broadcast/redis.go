package broadcast

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/moweilong/widgetauth/pkg/log"
)

// DefaultChannel is the Redis pub/sub channel used when none is configured.
const DefaultChannel = "widgetauth:events"

// Redis publishes events on a pub/sub channel so sibling processes observe
// token rotations.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis creates a Redis broadcaster. An empty channel means DefaultChannel.
func NewRedis(client redis.UniversalClient, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Broadcast implements Broadcaster.
func (r *Redis) Broadcast(ctx context.Context, e Event) error {
	payload, err := sonic.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Listen delivers events published on channel to fn until ctx is done.
// Messages that are not events are logged and skipped.
func Listen(ctx context.Context, client redis.UniversalClient, channel string, fn func(Event)) error {
	if channel == "" {
		channel = DefaultChannel
	}

	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no event published after
	// Listen starts is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := sonic.UnmarshalString(msg.Payload, &e); err != nil {
				log.Warnw("Skipping malformed broadcast message", "channel", channel, "err", err)
				continue
			}
			fn(e)
		}
	}
}
