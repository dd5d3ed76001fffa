// Package agent runs token managers for configured tenants and exposes them
// over HTTP, so widget fragments that are not Go programs can share them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/moweilong/widgetauth/pkg/broadcast"
	"github.com/moweilong/widgetauth/pkg/claims"
	"github.com/moweilong/widgetauth/pkg/log"
	"github.com/moweilong/widgetauth/pkg/schedule"
	"github.com/moweilong/widgetauth/pkg/sse"
	"github.com/moweilong/widgetauth/pkg/widgetauth"
)

// TokenEvent is the data of a widget-token SSE event. It never carries the
// owner token.
type TokenEvent struct {
	Tenant    string    `json:"tenant"`
	APIBase   string    `json:"api_base"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt int64     `json:"expires_at,omitempty"`
}

// Agent owns a Registry and the HTTP surface around it.
type Agent struct {
	cfg        *Config
	registry   *widgetauth.Registry
	hub        *sse.Hub
	promReg    *prometheus.Registry
	redis      redis.UniversalClient
	tp         *sdktrace.TracerProvider
	httpClient *http.Client
	engine     *gin.Engine
	srv        *http.Server

	mu      sync.RWMutex
	tenants map[string]Tenant
	byPair  map[string]string
}

// New builds the agent described by cfg.
func (cfg *Config) New() (*Agent, error) {
	a := &Agent{
		cfg:        cfg,
		promReg:    prometheus.NewRegistry(),
		httpClient: cfg.HTTPClient,
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	a.promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.setTenants(cfg.Tenants)

	history := cfg.EventHistory
	if history <= 0 {
		history = 64
	}
	a.hub = sse.NewHub(
		sse.WithStore(sse.NewMemoryStore(history)),
		sse.WithLogger(log.Default()),
	)

	broadcasters := broadcast.Multi{
		broadcast.NewSSE(a.hub, a.topic, broadcast.WithPayload(a.publicEvent)),
	}

	opts := []widgetauth.Option{
		widgetauth.WithHTTPClient(a.httpClient),
		widgetauth.WithBackoff(cfg.InitialBackoff, cfg.MaxBackoff),
		widgetauth.WithOperationTimeout(cfg.OperationTimeout),
		widgetauth.WithIdleTimeout(cfg.IdleTimeout),
		widgetauth.WithMetrics(a.promReg),
		widgetauth.WithLogger(log.Default()),
	}
	if cfg.Policy != (schedule.Policy{}) {
		opts = append(opts, widgetauth.WithRefreshPolicy(cfg.Policy))
	}

	if cfg.Tracing != nil && cfg.Tracing.Exporter != "" {
		tp, err := newTracerProvider(cfg.Tracing)
		if err != nil {
			a.hub.Close()
			return nil, err
		}
		a.tp = tp
		opts = append(opts, widgetauth.WithTracerProvider(tp))
	}

	if cfg.Redis != nil && cfg.Redis.Addr != "" {
		client, err := newRedisClient(cfg.Redis, a.tp)
		if err != nil {
			a.hub.Close()
			return nil, err
		}
		a.redis = client
		broadcasters = append(broadcasters, broadcast.NewRedis(client, cfg.Redis.Channel))
	}

	a.registry = widgetauth.NewRegistry(append(opts, widgetauth.WithBroadcaster(broadcasters))...)
	a.engine = a.router()
	a.srv = &http.Server{Addr: cfg.Addr, Handler: a.engine, ReadHeaderTimeout: 10 * time.Second}
	return a, nil
}

// Handler returns the HTTP handler of the agent.
func (a *Agent) Handler() http.Handler {
	return a.engine
}

// Registry returns the registry holding the tenants' managers.
func (a *Agent) Registry() *widgetauth.Registry {
	return a.registry
}

// Tenant returns the configured tenant called name.
func (a *Agent) Tenant(name string) (Tenant, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.tenants[name]
	return t, ok
}

// Tenants returns the configured tenants ordered by name.
func (a *Agent) Tenants() []Tenant {
	a.mu.RLock()
	out := make([]Tenant, 0, len(a.tenants))
	for _, t := range a.tenants {
		out = append(out, t)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateTenants replaces the tenant set. Managers of tenants that were removed
// or whose API base or owner token changed are destroyed; the next request
// for a changed tenant creates a fresh manager.
func (a *Agent) UpdateTenants(tenants []Tenant) {
	a.mu.Lock()
	old := a.tenants
	a.mu.Unlock()

	a.setTenants(tenants)

	for name, prev := range old {
		cur, ok := a.Tenant(name)
		if ok && cur == prev {
			continue
		}
		if a.registry.Destroy(prev.OwnerToken, prev.APIBase) {
			log.Infow("Destroyed token manager of reconfigured tenant", "tenant", name)
		}
	}
}

func (a *Agent) setTenants(tenants []Tenant) {
	byName := make(map[string]Tenant, len(tenants))
	byPair := make(map[string]string, len(tenants))
	for _, t := range tenants {
		t.APIBase = widgetauth.NormalizeAPIBase(t.APIBase)
		byName[t.Name] = t
		byPair[pairKey(t.APIBase, t.OwnerToken)] = t.Name
	}

	a.mu.Lock()
	a.tenants = byName
	a.byPair = byPair
	a.mu.Unlock()
}

func (a *Agent) manager(t Tenant) *widgetauth.Manager {
	return a.registry.GetOrCreate(t.OwnerToken, t.APIBase)
}

func (a *Agent) topic(e broadcast.Event) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.byPair[pairKey(widgetauth.NormalizeAPIBase(e.APIBase), e.OwnerToken)]
}

func (a *Agent) publicEvent(e broadcast.Event) any {
	return a.tokenEvent(Tenant{Name: a.topic(e), APIBase: e.APIBase}, e.Token, e.IssuedAt)
}

func (a *Agent) tokenEvent(t Tenant, token string, issuedAt time.Time) TokenEvent {
	exp, _ := claims.DecodeExpiry(token)
	return TokenEvent{
		Tenant:    t.Name,
		APIBase:   t.APIBase,
		Token:     token,
		IssuedAt:  issuedAt,
		ExpiresAt: exp,
	}
}

func pairKey(apiBase, ownerToken string) string {
	return apiBase + "\x00" + ownerToken
}

// Run serves until ctx is done, then closes event streams, destroys every
// manager and shuts down.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("Start to listening the incoming requests", "addr", a.cfg.Addr, "tenants", len(a.Tenants()))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.cfg.Prefetch {
		g.Go(func() error {
			a.prefetch(ctx)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Infow("Shutting down agent...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.hub.Close()
		err := a.srv.Shutdown(shutdownCtx)
		a.close(shutdownCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Infow("Agent exited successfully.")
	return nil
}

// Close releases the agent without serving. Run calls it on shutdown.
func (a *Agent) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.hub.Close()
	a.close(ctx)
}

func (a *Agent) close(ctx context.Context) {
	a.registry.Close()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Errorw(err, "Failed to close Redis client")
		}
	}
	if a.tp != nil {
		if err := a.tp.Shutdown(ctx); err != nil {
			log.Errorw(err, "Failed to shut down tracer provider")
		}
	}
}

func (a *Agent) prefetch(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range a.Tenants() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.manager(t).EnsureToken(ctx); err != nil {
				log.Warnw("Failed to prefetch widget token", "tenant", t.Name, "err", err)
			}
		}()
	}
	wg.Wait()
}

func newRedisClient(cfg *RedisConfig, tp *sdktrace.TracerProvider) (redis.UniversalClient, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr},
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if tp != nil {
		if err := instrumentRedis(client, tp); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to Redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
