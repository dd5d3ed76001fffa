package widgetauth

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/broadcast"
	"github.com/moweilong/widgetauth/pkg/credential"
	"github.com/moweilong/widgetauth/pkg/schedule"
)

const (
	// acquireKey serializes every mint and refresh of one manager.
	acquireKey = "acquire"

	tracerName = "github.com/moweilong/widgetauth/pkg/widgetauth"
)

// subscriber delivers tokens in acquisition order. last is the sequence of
// the newest token handed to fn; older deliveries that lose a race are dropped.
type subscriber struct {
	id uint64
	fn func(token string)

	mu   sync.Mutex
	last uint64
}

// Manager owns the widget token of one (API base, owner token) pair. It mints
// a token on demand, refreshes it before it expires and backs off when the
// credential server fails. Managers are created by a Registry.
type Manager struct {
	key        string
	apiBase    string
	ownerToken string

	creds     Credentials
	opts      *options
	metrics   *metrics
	tracer    trace.Tracer
	timer     *schedule.Timer
	group     singleflight.Group
	onDestroy func(*Manager)

	mu        sync.Mutex
	state     State
	token     string
	issuedAt  time.Time
	backoff   *schedule.Backoff
	subs      []*subscriber
	nextSubID uint64
	seq       uint64
	lastUsed  time.Time
}

func newManager(key, apiBase, ownerToken string, o *options, m *metrics, onDestroy func(*Manager)) *Manager {
	return &Manager{
		key:        key,
		apiBase:    apiBase,
		ownerToken: ownerToken,
		creds:      o.credentials(apiBase, o.httpClient),
		opts:       o,
		metrics:    m,
		tracer:     o.tracerProvider.Tracer(tracerName),
		timer:      schedule.NewTimer(o.clock),
		onDestroy:  onDestroy,
		state:      StateUninitialized,
		backoff:    schedule.NewBackoff(o.initialBackoff, o.maxBackoff),
		lastUsed:   o.clock.Now(),
	}
}

// Key returns the registry identity "<apiBase>::<ownerToken>". It is an
// internal identifier and contains the owner secret; do not log or expose it.
func (m *Manager) Key() string { return m.key }

// APIBase returns the normalized API base URL.
func (m *Manager) APIBase() string { return m.apiBase }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the held token without acquiring one.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// IssuedAt returns when the held token was obtained.
func (m *Manager) IssuedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issuedAt
}

// RetryDelay returns the delay the next failed refresh cycle will wait.
func (m *Manager) RetryDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backoff.Current()
}

// SubscriberCount returns the number of registered subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// EnsureToken returns the held token or mints one. Concurrent callers share a
// single mint. Cancelling ctx releases the caller but not the shared mint.
func (m *Manager) EnsureToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return "", errno.ErrManagerDestroyed
	}
	m.lastUsed = m.opts.clock.Now()
	if m.token != "" {
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	m.mu.Unlock()

	ch := m.group.DoChan(acquireKey, m.initialMint)
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		tok, _ := res.Val.(string)
		return tok, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe registers fn for every token the manager obtains. When a token is
// already held fn receives it before Subscribe returns. fn sees tokens in the
// order they were obtained; a replay that loses the race to a newer token is
// skipped. Panics in fn are recovered and logged and do not remove the
// subscription.
func (m *Manager) Subscribe(fn func(token string)) (unsubscribe func()) {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return func() {}
	}
	m.nextSubID++
	id := m.nextSubID
	sub := &subscriber{id: id, fn: fn}
	m.subs = append(m.subs, sub)
	m.lastUsed = m.opts.clock.Now()
	tok, seq := m.token, m.seq
	m.mu.Unlock()

	if tok != "" {
		m.deliver(sub, tok, seq)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.subs = slices.DeleteFunc(m.subs, func(s *subscriber) bool { return s.id == id })
			m.mu.Unlock()
		})
	}
}

// Destroy stops the refresh timer, drops every subscriber and forgets the
// token. A mint or refresh still in flight completes in the background and
// its result is discarded. Calling Destroy again does nothing.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return
	}
	m.state = StateDestroyed
	m.token = ""
	m.subs = nil
	m.timer.Stop()
	m.mu.Unlock()

	if m.onDestroy != nil {
		m.onDestroy(m)
	}
	m.opts.logger.Debugw("Token manager destroyed", "api_base", m.apiBase, "owner", maskToken(m.ownerToken))
}

func (m *Manager) alive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateDestroyed
}

// idleFor reports how long the manager has gone unused. Managers with
// subscribers are never idle.
func (m *Manager) idleFor(now time.Time) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) > 0 || m.state == StateDestroyed {
		return 0, false
	}
	return now.Sub(m.lastUsed), true
}

// initialMint runs inside the single-flight group for EnsureToken.
func (m *Manager) initialMint() (any, error) {
	m.mu.Lock()
	switch {
	case m.state == StateDestroyed:
		m.mu.Unlock()
		return "", errno.ErrManagerDestroyed
	case m.token != "":
		// A mint finished between the caller's check and joining the group.
		tok := m.token
		m.mu.Unlock()
		return tok, nil
	}
	m.state = StateMinting
	m.mu.Unlock()

	tok, err := m.call(credential.OpMint, m.ownerToken)
	if err != nil {
		m.mu.Lock()
		if m.state == StateMinting {
			m.state = StateUninitialized
		}
		m.mu.Unlock()
		m.opts.logger.Warnw("Failed to mint widget token", "api_base", m.apiBase, "owner", maskToken(m.ownerToken), "err", err)
		return "", err
	}
	return m.accept(tok)
}

// onTimer runs the refresh cycle when the refresh or backoff timer fires.
func (m *Manager) onTimer() {
	for m.alive() {
		ran := false
		_, _, _ = m.group.Do(acquireKey, func() (any, error) {
			ran = true
			return m.cycle()
		})
		if ran {
			return
		}
		// Joined the operation that armed this timer; run a cycle of our own.
	}
}

// cycle refreshes the held token, falls back to minting and backs off when
// both fail. Failures are never returned to EnsureToken callers holding a token.
func (m *Manager) cycle() (any, error) {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return "", errno.ErrManagerDestroyed
	}
	cur := m.token
	m.state = StateRefreshing
	m.mu.Unlock()

	if cur != "" {
		tok, err := m.call(credential.OpRefresh, cur)
		if err == nil {
			return m.accept(tok)
		}
		m.opts.logger.Infow("Widget token refresh failed, minting a new one", "api_base", m.apiBase, "owner", maskToken(m.ownerToken), "err", err)
	}

	tok, err := m.call(credential.OpMint, m.ownerToken)
	if err == nil {
		return m.accept(tok)
	}
	return m.fail(err)
}

// accept stores tok, arms the refresh timer and notifies listeners, unless
// the manager was destroyed while the call was in flight.
func (m *Manager) accept(tok string) (string, error) {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return "", errno.ErrManagerDestroyed
	}
	now := m.opts.clock.Now()
	m.token = tok
	m.issuedAt = now
	m.seq++
	seq := m.seq
	m.state = StateActive
	m.backoff.Reset()
	delay := m.opts.policy.RefreshDelay(tok, now)
	m.timer.After(delay, m.onTimer)
	subs := slices.Clone(m.subs)
	m.mu.Unlock()

	m.opts.logger.Debugw("Widget token acquired", "api_base", m.apiBase, "owner", maskToken(m.ownerToken), "refresh_in", delay.String())
	m.notify(tok, seq, now, subs)
	return tok, nil
}

// fail arms the backoff timer after a failed refresh cycle. The held token,
// if any, is kept.
func (m *Manager) fail(err error) (string, error) {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return "", errno.ErrManagerDestroyed
	}
	delay := m.backoff.Next()
	m.state = StateBackoff
	m.timer.After(delay, m.onTimer)
	m.mu.Unlock()

	m.metrics.backoffs.Inc()
	m.opts.logger.Warnw("Widget token refresh cycle failed, retrying later",
		"api_base", m.apiBase, "owner", maskToken(m.ownerToken), "delay", delay.String(), "err", err)
	return "", err
}

func (m *Manager) call(op credential.Op, arg string) (string, error) {
	ctx := context.Background()
	if m.opts.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.opTimeout)
		defer cancel()
	}

	ctx, span := m.tracer.Start(ctx, "widgetauth."+string(op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("widgetauth.api_base", m.apiBase)),
	)
	defer span.End()

	start := time.Now()
	var (
		tok string
		err error
	)
	switch op {
	case credential.OpRefresh:
		tok, err = m.creds.Refresh(ctx, arg)
	default:
		tok, err = m.creds.Mint(ctx, arg)
	}
	m.metrics.observe(string(op), start, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return tok, err
}

func (m *Manager) notify(tok string, seq uint64, issuedAt time.Time, subs []*subscriber) {
	for _, s := range subs {
		if !m.alive() {
			return
		}
		m.deliver(s, tok, seq)
	}
	if !m.alive() {
		return
	}

	ctx := context.Background()
	if m.opts.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.opTimeout)
		defer cancel()
	}
	err := m.opts.broadcaster.Broadcast(ctx, broadcast.Event{
		Name:       broadcast.EventName,
		Token:      tok,
		OwnerToken: m.ownerToken,
		APIBase:    m.apiBase,
		IssuedAt:   issuedAt,
	})
	if err != nil {
		m.metrics.broadcastErrors.Inc()
		m.opts.logger.Errorw(err, "Failed to broadcast widget token", "api_base", m.apiBase, "owner", maskToken(m.ownerToken))
	}
}

// deliver hands tok to s unless s already saw a newer token.
func (m *Manager) deliver(s *subscriber, tok string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.last {
		return
	}
	s.last = seq
	m.safeCall(s.fn, tok)
}

func (m *Manager) safeCall(fn func(string), tok string) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.subscriberPanics.Inc()
			m.opts.logger.Errorw(fmt.Errorf("%v", r), "Widget token subscriber panicked", "api_base", m.apiBase)
		}
	}()
	fn(tok)
}

// maskToken keeps enough of a secret to tell tenants apart in logs.
func maskToken(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
