// Package sse fans events out to Server-Sent Event subscribers and consumes
// such streams. Subscribers pick a topic; an empty topic receives everything.
package sse

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moweilong/widgetauth/pkg/log"
)

// HubOption configures a Hub.
type HubOption func(*hubOptions)

type hubOptions struct {
	store              Store
	logger             log.Logger
	pushBufferSize     int
	workerNum          int
	sendTimeout        time.Duration
	closeGracePeriod   time.Duration
	pushFailedHandleFn func(subscriberID string, event *Event)
}

func defaultHubOptions() *hubOptions {
	return &hubOptions{
		logger:           log.Default(),
		pushBufferSize:   256,
		workerNum:        4,
		sendTimeout:      5 * time.Second,
		closeGracePeriod: 2 * time.Second,
	}
}

// WithStore keeps events so reconnecting subscribers can resume from Last-Event-ID.
func WithStore(store Store) HubOption {
	return func(o *hubOptions) {
		o.store = store
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger log.Logger) HubOption {
	return func(o *hubOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPushBufferSize sets the per subscriber and dispatch queue sizes.
func WithPushBufferSize(size int) HubOption {
	return func(o *hubOptions) {
		if size > 0 {
			o.pushBufferSize = size
		}
	}
}

// WithWorkerNum sets how many workers retry pushes to slow subscribers.
func WithWorkerNum(num int) HubOption {
	return func(o *hubOptions) {
		if num > 0 {
			o.workerNum = num
		}
	}
}

// WithSendTimeout bounds each attempt to hand an event to a slow subscriber.
func WithSendTimeout(d time.Duration) HubOption {
	return func(o *hubOptions) {
		if d > 0 {
			o.sendTimeout = d
		}
	}
}

// WithCloseGracePeriod bounds how long Close waits for subscribers to leave.
func WithCloseGracePeriod(d time.Duration) HubOption {
	return func(o *hubOptions) {
		o.closeGracePeriod = d
	}
}

// WithPushFailedHandleFn is called when an event could not be delivered.
func WithPushFailedHandleFn(fn func(subscriberID string, event *Event)) HubOption {
	return func(o *hubOptions) {
		o.pushFailedHandleFn = fn
	}
}

// Subscriber is one connected event stream.
type Subscriber struct {
	ID    string
	Topic string
	Send  chan *Event

	done       chan struct{}
	registered chan struct{}
	writer     http.ResponseWriter
	flusher http.Flusher
}

func (s *Subscriber) wants(topic string) bool {
	return s.Topic == "" || s.Topic == topic
}

type delivery struct {
	sub   *Subscriber
	event *Event
}

// Hub tracks subscribers and delivers published events to them.
type Hub struct {
	store Store

	subscribers *SafeMap
	register    chan *Subscriber
	unregister  chan *Subscriber
	deliver     chan *delivery
	pool        *AsyncTaskPool
	PushStats   *PushStats

	maxRetry           int
	bufferSize         int
	sendTimeout        time.Duration
	closeGracePeriod   time.Duration
	pushFailedHandleFn func(subscriberID string, event *Event)

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    log.Logger
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub(opts ...HubOption) *Hub {
	o := defaultHubOptions()
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:              o.store,
		subscribers:        NewSafeMap(),
		register:           make(chan *Subscriber),
		unregister:         make(chan *Subscriber),
		deliver:            make(chan *delivery, o.pushBufferSize),
		pool:               NewAsyncTaskPool(o.workerNum, o.pushBufferSize),
		PushStats:          &PushStats{},
		maxRetry:           3,
		bufferSize:         o.pushBufferSize,
		sendTimeout:        o.sendTimeout,
		closeGracePeriod:   o.closeGracePeriod,
		pushFailedHandleFn: o.pushFailedHandleFn,
		ctx:                ctx,
		cancel:             cancel,
		logger:             o.logger,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case s := <-h.register:
			h.subscribers.Set(s.ID, s)
			close(s.registered)
			h.logger.Debugw("SSE subscriber connected", "id", s.ID, "topic", s.Topic)

		case s := <-h.unregister:
			if h.subscribers.Has(s.ID) {
				h.subscribers.Delete(s.ID)
				close(s.done)
				h.logger.Debugw("SSE subscriber disconnected", "id", s.ID)
			}

		case d := <-h.deliver:
			select {
			case d.sub.Send <- d.event:
			case <-d.sub.done:
			default:
				if !h.pool.Submit(func() { h.retrySend(d) }) {
					h.failed(d)
				}
			}

		case <-h.ctx.Done():
			h.logger.Debugw("SSE hub stopped")
			return
		}
	}
}

// Register adds s to the hub and returns once events published afterwards
// reach it. It fails once the hub is closed.
func (h *Hub) Register(s *Subscriber) error {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
		return errors.New("sse: hub closed")
	}

	select {
	case <-s.registered:
		return nil
	case <-h.ctx.Done():
		return errors.New("sse: hub closed")
	}
}

// NewSubscriber creates a subscriber for topic with a buffered Send channel.
func (h *Hub) NewSubscriber(id, topic string) *Subscriber {
	return &Subscriber{
		ID:    id,
		Topic: topic,
		Send:       make(chan *Event, h.bufferSize),
		done:       make(chan struct{}),
		registered: make(chan struct{}),
	}
}

// Done is closed once the subscriber has been unregistered.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Unregister removes s. Pending sends to it are abandoned.
func (h *Hub) Unregister(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
	}
}

// Publish delivers events to every subscriber of topic and to the
// subscribers of all topics. An empty topic reaches every subscriber.
func (h *Hub) Publish(topic string, events ...*Event) error {
	if len(events) == 0 {
		return errors.New("sse: no events to publish")
	}

	for _, e := range events {
		if err := e.CheckValid(); err != nil {
			return fmt.Errorf("check event: %w", err)
		}
		if e.ID == "" {
			e.ID = newEventID()
		}
		if h.store != nil && e.Event != CloseEventType {
			if err := h.store.Save(h.ctx, topic, e); err != nil {
				return fmt.Errorf("save event: %w", err)
			}
		}

		h.subscribers.Range(func(_ string, s *Subscriber) bool {
			if topic == "" || s.wants(topic) {
				h.push(&delivery{sub: s, event: e})
			}
			return true
		})
	}
	return nil
}

func (h *Hub) push(d *delivery) {
	h.PushStats.IncTotal()

	select {
	case h.deliver <- d:
	default:
		if !h.pool.Submit(func() { h.retryQueue(d) }) {
			h.failed(d)
		}
	}
}

// retryQueue waits for room in the dispatch queue.
func (h *Hub) retryQueue(d *delivery) {
	for i := range h.maxRetry {
		timer := time.NewTimer(h.sendTimeout)
		select {
		case h.deliver <- d:
			timer.Stop()
			return
		case <-h.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			h.PushStats.IncTimeout()
			h.logger.Warnw("SSE dispatch queue full", "id", d.sub.ID, "event_id", d.event.ID, "retry", i+1)
		}
	}
	h.failed(d)
}

// retrySend waits for a slow subscriber to drain its buffer.
func (h *Hub) retrySend(d *delivery) {
	for i := range h.maxRetry {
		timer := time.NewTimer(h.sendTimeout)
		select {
		case d.sub.Send <- d.event:
			timer.Stop()
			return
		case <-d.sub.done:
			timer.Stop()
			return
		case <-h.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			h.PushStats.IncTimeout()
			h.logger.Warnw("SSE subscriber is slow", "id", d.sub.ID, "event_id", d.event.ID, "retry", i+1)
		}
	}
	h.failed(d)
}

func (h *Hub) failed(d *delivery) {
	h.PushStats.IncFailed()
	if h.pushFailedHandleFn != nil {
		h.pushFailedHandleFn(d.sub.ID, d.event)
	}
}

func (h *Hub) replay(s *Subscriber, lastEventID string) {
	if h.store == nil || lastEventID == "" {
		return
	}

	events, err := h.store.Since(h.ctx, s.Topic, lastEventID)
	if err != nil {
		h.logger.Warnw("SSE replay failed", "id", s.ID, "err", err)
		return
	}
	for _, e := range events {
		if err := s.sendEvent(e); err != nil {
			h.failed(&delivery{sub: s, event: e})
			return
		}
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	return h.subscribers.Len()
}

// Close sends a close event, waits for subscribers to leave and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		if n := h.SubscriberCount(); n > 0 {
			h.logger.Infow("Closing SSE subscribers", "count", n)
			_ = h.Publish("", CloseEvent())

			deadline := time.Now().Add(h.closeGracePeriod)
			for h.SubscriberCount() > 0 && time.Now().Before(deadline) {
				time.Sleep(20 * time.Millisecond)
			}
		}

		h.cancel()
		h.pool.Stop()
	})
}

// PushStats counts push outcomes.
type PushStats struct {
	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	timeout atomic.Int64
}

func (s *PushStats) IncTotal()   { s.total.Add(1) }
func (s *PushStats) IncSuccess() { s.success.Add(1) }
func (s *PushStats) IncFailed()  { s.failed.Add(1) }
func (s *PushStats) IncTimeout() { s.timeout.Add(1) }

// Snapshot returns the current counters.
func (s *PushStats) Snapshot() (total, success, failed, timeout int64) { //nolint
	return s.total.Load(), s.success.Load(), s.failed.Load(), s.timeout.Load()
}

func newEventID() string {
	ns := time.Now().UnixMicro() * 1000
	return strconv.FormatInt(ns+rand.Int64N(1000), 16)
}
