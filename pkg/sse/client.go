package sse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/moweilong/widgetauth/pkg/log"
)

// ErrClosedByServer is returned by Run when the server sent a close event.
var ErrClosedByServer = errors.New("sse: closed by server")

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	headers           map[string]string
	logger            log.Logger
	httpClient        *http.Client
	reconnectInterval time.Duration
	maxBackoff        time.Duration
	maxRetries        int
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		logger:            log.Default(),
		httpClient:        &http.Client{},
		reconnectInterval: 2 * time.Second,
		maxBackoff:        30 * time.Second,
		maxRetries:        -1,
	}
}

// WithClientHeaders sets request headers.
func WithClientHeaders(headers map[string]string) ClientOption {
	return func(o *clientOptions) {
		o.headers = headers
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger log.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClientHTTPClient sets the HTTP client. It must not have a timeout.
func WithClientHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithClientReconnect sets the first reconnect delay, its cap and the number
// of consecutive failed attempts before Run gives up (-1 retries forever).
func WithClientReconnect(interval, maxBackoff time.Duration, maxRetries int) ClientOption {
	return func(o *clientOptions) {
		if interval > 0 {
			o.reconnectInterval = interval
		}
		if maxBackoff > 0 {
			o.maxBackoff = maxBackoff
		}
		o.maxRetries = maxRetries
	}
}

// EventCallback handles one received event.
type EventCallback func(event *Event)

// Client consumes an SSE stream and reconnects with exponential backoff.
type Client struct {
	url  string
	opts *clientOptions

	mu          sync.RWMutex
	callbacks   map[string]EventCallback
	lastEventID string
	connected   bool
}

// NewClient creates a Client for url.
func NewClient(url string, opts ...ClientOption) *Client {
	o := defaultClientOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{
		url:       url,
		opts:      o,
		callbacks: make(map[string]EventCallback),
	}
}

// OnEvent registers cb for eventType, replacing any previous callback.
func (c *Client) OnEvent(eventType string, cb EventCallback) {
	c.mu.Lock()
	c.callbacks[eventType] = cb
	c.mu.Unlock()
}

// Connected reports whether a stream is currently open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// LastEventID returns the ID of the last event received.
func (c *Client) LastEventID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastEventID
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Run reads the stream until ctx is done, the server sends a close event or
// reconnect attempts are exhausted. Reconnects resume from the last event ID.
func (c *Client) Run(ctx context.Context) error {
	s := &retryStrategy{
		backoff:    c.opts.reconnectInterval,
		maxBackoff: c.opts.maxBackoff,
		maxRetries: c.opts.maxRetries,
	}

	for {
		err := c.stream(ctx, s)
		c.setConnected(false)

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrClosedByServer):
			return err
		}

		if s.retry() {
			return fmt.Errorf("sse: giving up after %d attempts: %w", s.retryCount, err)
		}
		c.opts.logger.Warnw("SSE stream interrupted", "url", c.url, "err", err, "retry_in", s.backoff.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
}

func (c *Client) stream(ctx context.Context, s *retryStrategy) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.opts.headers {
		req.Header.Set(k, v)
	}
	if id := c.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	c.setConnected(true)
	s.reset(c.opts.reconnectInterval)

	var (
		eventType, eventID string
		data               []string
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		switch {
		case line == "":
			if len(data) > 0 {
				if eventType == CloseEventType {
					return ErrClosedByServer
				}
				if err := c.dispatch(eventType, eventID, strings.Join(data, "\n")); err != nil {
					c.opts.logger.Warnw("Failed to process SSE event", "event", eventType, "err", err)
				}
			}
			eventType, eventID, data = "", "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(line[len("id:"):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("sse: stream ended")
}

func (c *Client) dispatch(eventType, eventID, data string) error {
	if eventID != "" {
		c.mu.Lock()
		c.lastEventID = eventID
		c.mu.Unlock()
	}
	if eventType == "" {
		eventType = DefaultEventType
	}

	c.mu.RLock()
	cb, ok := c.callbacks[eventType]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	var payload any
	if err := sonic.UnmarshalString(data, &payload); err != nil {
		return err
	}
	cb(&Event{ID: eventID, Event: eventType, Data: payload})
	return nil
}

type retryStrategy struct {
	backoff    time.Duration
	maxBackoff time.Duration
	retryCount int
	maxRetries int // -1 means unlimited
}

// retry records a failed attempt and reports whether to give up.
// The delay doubles from the second consecutive failure on.
func (s *retryStrategy) retry() bool {
	s.retryCount++
	if s.retryCount > 1 {
		s.backoff = min(s.backoff*2, s.maxBackoff)
	}
	return s.maxRetries > 0 && s.retryCount >= s.maxRetries
}

func (s *retryStrategy) reset(d time.Duration) {
	s.backoff = d
	s.retryCount = 0
}
