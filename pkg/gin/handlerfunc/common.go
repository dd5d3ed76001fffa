// Package handlerfunc holds the handlers every widgetauth server mounts.
package handlerfunc

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/core"
	"github.com/moweilong/widgetauth/pkg/version"
)

// HealthzReply is the body of /healthz.
type HealthzReply struct {
	Status    string `json:"status"`
	Hostname  string `json:"hostname"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// Healthz reports that the process is serving.
func Healthz(c *gin.Context) {
	hostname, _ := os.Hostname()
	core.WriteResponse(c, HealthzReply{
		Status:    "healthy",
		Hostname:  hostname,
		Version:   version.Get().GitVersion,
		Timestamp: time.Now().Format(time.DateTime),
	}, nil)
}

// Metrics serves the metrics gathered by g.
func Metrics(g prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// NoRoute answers unknown routes with the error envelope.
func NoRoute(c *gin.Context) {
	core.WriteResponse(c, nil, errno.ErrPageNotFound)
}

// Register mounts /healthz and /metrics on r and installs NoRoute.
func Register(r gin.IRoutes, g prometheus.Gatherer) {
	r.GET("/healthz", Healthz)
	r.GET("/metrics", Metrics(g))
	if e, ok := r.(*gin.Engine); ok {
		e.NoRoute(NoRoute)
	}
}

