package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisPublishAndListen(t *testing.T) {
	client := newMiniRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	listening := make(chan error, 1)
	go func() {
		listening <- Listen(ctx, client, "", func(e Event) { received <- e })
	}()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, DefaultChannel).Result()
		return err == nil && n[DefaultChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, NewRedis(client, "").Broadcast(ctx, testEvent()))

	select {
	case e := <-received:
		assert.Equal(t, testEvent().Token, e.Token)
		assert.Equal(t, testEvent().APIBase, e.APIBase)
		assert.True(t, testEvent().IssuedAt.Equal(e.IssuedAt))
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}

	cancel()
	select {
	case err := <-listening:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenSkipsMalformed(t *testing.T) {
	client := newMiniRedis(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	go func() { _ = Listen(ctx, client, "custom", func(e Event) { received <- e }) }()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "custom").Result()
		return err == nil && n["custom"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Publish(ctx, "custom", "not json").Err())
	require.NoError(t, NewRedis(client, "custom").Broadcast(ctx, testEvent()))

	select {
	case e := <-received:
		assert.Equal(t, "widget-1", e.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestRedisBroadcastError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	err := NewRedis(client, "").Broadcast(context.Background(), testEvent())
	assert.Error(t, err)
}
