package agent

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/moweilong/widgetauth/pkg/gin/handlerfunc"
	mw "github.com/moweilong/widgetauth/pkg/gin/middleware"
	"github.com/moweilong/widgetauth/pkg/gin/validator"
	"github.com/moweilong/widgetauth/pkg/log"
)

func (a *Agent) router() *gin.Engine {
	binding.Validator = validator.Init()

	r := gin.New()
	r.Use(
		gin.Recovery(),
		mw.RequestID(),
		mw.Logging(mw.WithLog(log.Z()), mw.WithRequestIDFromContext()),
		mw.Cors(a.cfg.AllowedOrigins),
	)

	handlerfunc.Register(r, a.promReg)

	v1 := r.Group("/v1")
	{
		v1.GET("/tenants", a.ListTenants)
		v1.GET("/events", a.Events)

		tenant := v1.Group("/tenants/:name", a.resolveTenant)
		tenant.GET("", a.GetTenant)
		tenant.DELETE("", a.DestroyTenant)
		tenant.GET("/token", a.GetToken)
		tenant.Any("/proxy/*path", a.Proxy)
	}

	return r
}
