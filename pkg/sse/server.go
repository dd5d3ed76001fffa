package sse

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ServeOption configures Serve.
type ServeOption func(*serveOptions)

type serveOptions struct {
	extraHeaders      map[string]string
	heartbeatInterval time.Duration
	onConnect         func() []*Event
}

func defaultServeOptions() *serveOptions {
	return &serveOptions{heartbeatInterval: 30 * time.Second}
}

// WithServeExtraHeaders adds response headers to the stream.
func WithServeExtraHeaders(headers map[string]string) ServeOption {
	return func(o *serveOptions) {
		o.extraHeaders = headers
	}
}

// WithHeartbeatInterval sets how often a comment line keeps idle streams open.
func WithHeartbeatInterval(d time.Duration) ServeOption {
	return func(o *serveOptions) {
		if d > 0 {
			o.heartbeatInterval = d
		}
	}
}

// WithOnConnect runs fn once the subscriber is registered and retained events
// are replayed. The events fn returns are sent to this subscriber only.
func WithOnConnect(fn func() []*Event) ServeOption {
	return func(o *serveOptions) {
		o.onConnect = fn
	}
}

// Serve streams the events of topic to the requesting client until it
// disconnects or the hub closes. Last-Event-ID (header or last_event_id query)
// replays retained events first.
func (h *Hub) Serve(c *gin.Context, topic string, opts ...ServeOption) {
	o := defaultServeOptions()
	for _, opt := range opts {
		opt(o)
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		_ = c.AbortWithError(http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	for k, v := range o.extraHeaders {
		header.Set(k, v)
	}

	sub := h.NewSubscriber(uuid.NewString(), topic)
	sub.writer = c.Writer
	sub.flusher = flusher

	if err := h.Register(sub); err != nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	defer h.Unregister(sub)

	c.Status(http.StatusOK)
	_ = sub.write([]byte(": connected\n\n"))

	lastEventID := c.Query("last_event_id")
	if lastEventID == "" {
		lastEventID = c.GetHeader("Last-Event-ID")
	}
	h.replay(sub, lastEventID)

	if o.onConnect != nil {
		for _, e := range o.onConnect() {
			if e.ID == "" {
				e.ID = newEventID()
			}
			if err := sub.sendEvent(e); err != nil {
				return
			}
		}
	}

	heartbeat := time.NewTicker(o.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case e := <-sub.Send:
			if err := sub.sendEvent(e); err != nil {
				h.PushStats.IncFailed()
				return false
			}
			h.PushStats.IncSuccess()
			return e.Event != CloseEventType

		case <-heartbeat.C:
			return sub.write([]byte(": heartbeat\n\n")) == nil

		case <-sub.done:
			return false

		case <-c.Request.Context().Done():
			return false
		}
	})
}

// ServeHandler returns a gin handler streaming the topic chosen by topicFn.
func (h *Hub) ServeHandler(topicFn func(c *gin.Context) string, opts ...ServeOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		topic := ""
		if topicFn != nil {
			topic = topicFn(c)
		}
		h.Serve(c, topic, opts...)
	}
}

func (s *Subscriber) sendEvent(e *Event) error {
	data, err := sonic.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("id: ")
	buf.WriteString(e.ID)
	buf.WriteString("\nevent: ")
	buf.WriteString(e.Event)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")

	return s.write(buf.Bytes())
}

func (s *Subscriber) write(data []byte) error {
	if s.writer == nil {
		return fmt.Errorf("sse: subscriber %s has no writer", s.ID)
	}
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
