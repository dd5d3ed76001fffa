package agent

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/core"
	"github.com/moweilong/widgetauth/pkg/log"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Proxy forwards the request to the tenant's API base with the tenant's
// widget token as bearer credential. The part of the path after /proxy is
// appended to the API base; the query string is kept.
func (a *Agent) Proxy(c *gin.Context) {
	t := tenantFrom(c)
	m := a.manager(t)

	target, err := url.Parse(m.APIBase())
	if err != nil {
		core.WriteResponse(c, nil, errno.ErrInternal.WithMessage("invalid api base %q", m.APIBase()))
		return
	}
	path := c.Param("path")

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = strings.TrimSuffix(target.Path, "/") + path
			pr.Out.URL.RawPath = ""
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Host = ""
			pr.Out.Header.Del("Cookie")
			pr.SetXForwarded()
		},
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return m.APIFetch(r.Context(), r)
		}),
		ErrorHandler: func(_ http.ResponseWriter, _ *http.Request, err error) {
			a.proxyError(c, t, err)
		},
	}
	proxy.ServeHTTP(c.Writer, c.Request)
}

func (a *Agent) proxyError(c *gin.Context, t Tenant, err error) {
	log.W(c.Request.Context()).Warnw("Proxied request failed", "tenant", t.Name, "path", c.Param("path"), "err", err)

	switch {
	case errors.Is(err, errno.ErrCredentialAcquisition), errors.Is(err, errno.ErrManagerDestroyed):
		core.WriteResponse(c, nil, err)
	default:
		core.WriteResponse(c, nil, errno.ErrUpstreamUnavailable.KV("tenant", t.Name))
	}
}

