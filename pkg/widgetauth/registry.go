// Package widgetauth manages the lifecycle of short lived widget tokens minted
// from long lived owner tokens.
//
// A Registry hands out one Manager per (API base, owner token) pair. The
// Manager mints a token on first use, refreshes it ahead of its expiry, backs
// off exponentially when the credential server fails and tells subscribers
// and the configured broadcaster about every new token.
package widgetauth

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/moweilong/widgetauth/pkg/schedule"
)

// Registry maps (API base, owner token) pairs to their Manager. The same pair
// always resolves to the same Manager until it is destroyed.
type Registry struct {
	opts    *options
	metrics *metrics

	mu       sync.Mutex
	managers map[string]*Manager
	janitor  *schedule.Timer
	closed   bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	r := &Registry{
		opts:     o,
		metrics:  newMetrics(o.registerer),
		managers: make(map[string]*Manager),
	}
	if o.idleTimeout > 0 {
		r.janitor = schedule.NewTimer(o.clock)
		r.janitor.After(r.sweepInterval(), r.sweep)
	}
	return r
}

// NormalizeAPIBase strips trailing slashes.
func NormalizeAPIBase(apiBase string) string {
	return strings.TrimRight(apiBase, "/")
}

// registryKey is the internal identity of a manager.
func registryKey(ownerToken, apiBase string) string {
	return NormalizeAPIBase(apiBase) + "::" + ownerToken
}

// GetOrCreate returns the Manager of the pair, creating it on first use.
func (r *Registry) GetOrCreate(ownerToken, apiBase string) *Manager {
	key := registryKey(ownerToken, apiBase)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[key]; ok {
		return m
	}
	m := newManager(key, NormalizeAPIBase(apiBase), ownerToken, r.opts, r.metrics, r.forget)
	r.managers[key] = m
	r.metrics.managers.Inc()
	return m
}

// Lookup returns the Manager of the pair without creating one.
func (r *Registry) Lookup(ownerToken, apiBase string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.managers[registryKey(ownerToken, apiBase)]
	return m, ok
}

// Destroy destroys and removes the Manager of the pair. It reports whether
// one existed.
func (r *Registry) Destroy(ownerToken, apiBase string) bool {
	m, ok := r.Lookup(ownerToken, apiBase)
	if !ok {
		return false
	}
	m.Destroy()
	return true
}

// Len returns the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.managers)
}

// Managers returns the live managers ordered by key.
func (r *Registry) Managers() []*Manager {
	r.mu.Lock()
	out := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Close stops idle eviction and destroys every manager. Managers created
// after Close are not evicted.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	if r.janitor != nil {
		r.janitor.Stop()
	}
	r.mu.Unlock()

	for _, m := range r.Managers() {
		m.Destroy()
	}
}

// forget drops m from the map once it has been destroyed.
func (r *Registry) forget(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.managers[m.key]; ok && cur == m {
		delete(r.managers, m.key)
		r.metrics.managers.Dec()
	}
}

func (r *Registry) sweepInterval() time.Duration {
	if d := r.opts.idleTimeout / 2; d > 0 {
		return d
	}
	return r.opts.idleTimeout
}

func (r *Registry) sweep() {
	now := r.opts.clock.Now()
	for _, m := range r.Managers() {
		idle, ok := m.idleFor(now)
		if !ok || idle < r.opts.idleTimeout {
			continue
		}
		m.Destroy()
		r.metrics.evictions.Inc()
		r.opts.logger.Infow("Evicted idle token manager", "api_base", m.apiBase, "owner", maskToken(m.ownerToken), "idle", idle.String())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.janitor.After(r.sweepInterval(), r.sweep)
	}
}
