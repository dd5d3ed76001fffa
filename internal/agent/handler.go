package agent

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/broadcast"
	"github.com/moweilong/widgetauth/pkg/claims"
	"github.com/moweilong/widgetauth/pkg/core"
	"github.com/moweilong/widgetauth/pkg/log"
	"github.com/moweilong/widgetauth/pkg/sse"
	"github.com/moweilong/widgetauth/pkg/widgetauth"
)

const tenantContextKey = "agent.tenant"

// TenantStatus describes a tenant and its token manager. It never carries the
// owner token.
type TenantStatus struct {
	Name        string `json:"name"`
	APIBase     string `json:"api_base"`
	State       string `json:"state"`
	HasToken    bool   `json:"has_token"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	Subscribers int    `json:"subscribers"`
	RetryIn     string `json:"retry_in,omitempty"`
}

// ListTenantsResponse is the body of GET /v1/tenants.
type ListTenantsResponse struct {
	Tenants []TenantStatus `json:"tenants"`
}

// TokenResponse is the body of GET /v1/tenants/:name/token.
type TokenResponse struct {
	Tenant    string `json:"tenant"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	State     string `json:"state"`
}

// DestroyResponse is the body of DELETE /v1/tenants/:name.
type DestroyResponse struct {
	Tenant    string `json:"tenant"`
	Destroyed bool   `json:"destroyed"`
}

func (a *Agent) resolveTenant(c *gin.Context) {
	t, ok := a.Tenant(c.Param("name"))
	if !ok {
		core.AbortWithError(c, errno.ErrTenantNotFound.KV("tenant", c.Param("name")))
		return
	}
	c.Set(tenantContextKey, t)
	c.Next()
}

func tenantFrom(c *gin.Context) Tenant {
	return c.MustGet(tenantContextKey).(Tenant)
}

// ListTenants reports every configured tenant without creating managers.
func (a *Agent) ListTenants(c *gin.Context) {
	tenants := a.Tenants()
	resp := ListTenantsResponse{Tenants: make([]TenantStatus, 0, len(tenants))}
	for _, t := range tenants {
		resp.Tenants = append(resp.Tenants, a.status(t))
	}
	core.WriteResponse(c, resp, nil)
}

// GetTenant reports one tenant.
func (a *Agent) GetTenant(c *gin.Context) {
	core.WriteResponse(c, a.status(tenantFrom(c)), nil)
}

// GetToken returns the tenant's current widget token, acquiring one first if
// none is held.
func (a *Agent) GetToken(c *gin.Context) {
	t := tenantFrom(c)
	m := a.manager(t)

	token, err := m.EnsureToken(c.Request.Context())
	if err != nil {
		log.W(c.Request.Context()).Warnw("Failed to get widget token", "tenant", t.Name, "err", err)
		core.WriteResponse(c, nil, err)
		return
	}

	exp, _ := claims.DecodeExpiry(token)
	core.WriteResponse(c, TokenResponse{
		Tenant:    t.Name,
		Token:     token,
		ExpiresAt: exp,
		State:     m.State().String(),
	}, nil)
}

// DestroyTenant destroys the tenant's manager. The next request for the
// tenant starts a new one.
func (a *Agent) DestroyTenant(c *gin.Context) {
	t := tenantFrom(c)
	destroyed := a.registry.Destroy(t.OwnerToken, t.APIBase)
	if destroyed {
		log.W(c.Request.Context()).Infow("Token manager destroyed", "tenant", t.Name)
	}
	core.WriteResponse(c, DestroyResponse{Tenant: t.Name, Destroyed: destroyed}, nil)
}

// Events streams widget-token events. With ?tenant=name only that tenant's
// events are sent, the stream counts as a subscriber of its manager, and the
// held token is sent first. A tenant without a token starts acquiring one.
func (a *Agent) Events(c *gin.Context) {
	opts := []sse.ServeOption{sse.WithHeartbeatInterval(a.cfg.HeartbeatInterval)}

	name := c.Query("tenant")
	if name == "" {
		a.hub.Serve(c, "", opts...)
		return
	}

	t, ok := a.Tenant(name)
	if !ok {
		core.WriteResponse(c, nil, errno.ErrTenantNotFound.KV("tenant", name))
		return
	}

	m := a.manager(t)
	unsubscribe := m.Subscribe(func(string) {})
	defer unsubscribe()

	opts = append(opts, sse.WithOnConnect(func() []*sse.Event {
		token, held := m.Token()
		if !held {
			go a.warm(m, t.Name)
			return nil
		}
		return []*sse.Event{{Event: broadcast.EventName, Data: a.tokenEvent(t, token, m.IssuedAt())}}
	}))
	a.hub.Serve(c, t.Name, opts...)
}

func (a *Agent) warm(m *widgetauth.Manager, tenant string) {
	timeout := a.cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := m.EnsureToken(ctx); err != nil {
		log.Warnw("Failed to acquire widget token for event stream", "tenant", tenant, "err", err)
	}
}

func (a *Agent) status(t Tenant) TenantStatus {
	st := TenantStatus{Name: t.Name, APIBase: t.APIBase, State: widgetauth.StateUninitialized.String()}

	m, ok := a.registry.Lookup(t.OwnerToken, t.APIBase)
	if !ok {
		return st
	}
	st.State = m.State().String()
	st.Subscribers = m.SubscriberCount()
	if token, held := m.Token(); held {
		st.HasToken = true
		st.ExpiresAt, _ = claims.DecodeExpiry(token)
	}
	if st.State == widgetauth.StateBackoff.String() {
		st.RetryIn = m.RetryDelay().String()
	}
	return st
}
