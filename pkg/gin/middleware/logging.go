// Package middleware holds the gin middleware shared by the widgetauth servers.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Option set the gin logger options.
type Option func(*options)

type options struct {
	log           *zap.Logger
	ignoreRoutes  map[string]struct{}
	errorCodes    map[int]bool
	requestIDFrom int // 0: ignore, 1: from context, 2: from header
}

func defaultOptions() *options {
	return &options{
		log: zap.NewNop(),
		ignoreRoutes: map[string]struct{}{
			"/healthz": {},
			"/metrics": {},
		},
		errorCodes: map[int]bool{
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
		},
	}
}

func (o *options) apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// WithLog set log
func WithLog(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithIgnoreRoutes skips logging for the given paths.
func WithIgnoreRoutes(routes ...string) Option {
	return func(o *options) {
		for _, route := range routes {
			o.ignoreRoutes[route] = struct{}{}
		}
	}
}

// WithPrintErrorByCodes logs responses with these status codes at error level.
func WithPrintErrorByCodes(code ...int) Option {
	return func(o *options) {
		for _, c := range code {
			o.errorCodes[c] = true
		}
	}
}

// WithRequestIDFromContext reads the request ID stored by RequestID.
func WithRequestIDFromContext() Option {
	return func(o *options) {
		o.requestIDFrom = 1
	}
}

// WithRequestIDFromHeader reads the request ID from X-Request-Id.
func WithRequestIDFromHeader() Option {
	return func(o *options) {
		o.requestIDFrom = 2
	}
}

// Logging logs one line per request once it completes. Request and response
// bodies are never logged: they carry owner and widget tokens. The query
// string is dropped for the same reason.
func Logging(opts ...Option) gin.HandlerFunc {
	o := defaultOptions()
	o.apply(opts...)

	return func(c *gin.Context) {
		if _, ok := o.ignoreRoutes[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		code := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("code", code),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Int64("time_us", time.Since(start).Microseconds()),
			zap.Int("size", c.Writer.Size()),
			o.requestID(c),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if o.errorCodes[code] {
			o.log.Error("Gin response", fields...)
		} else {
			o.log.Info("Gin response", fields...)
		}
	}
}

func (o *options) requestID(c *gin.Context) zap.Field {
	var id string
	switch o.requestIDFrom {
	case 1:
		id = GCtxRequestID(c)
	case 2:
		id = c.Request.Header.Get(HeaderXRequestIDKey)
	}
	if id == "" {
		return zap.Skip()
	}
	return zap.String(ContextRequestIDKey, id)
}
