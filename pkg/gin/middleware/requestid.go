package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// ContextRequestIDKey is the gin context key holding the request ID.
	ContextRequestIDKey = "request_id"
	// HeaderXRequestIDKey is the header carrying the request ID.
	HeaderXRequestIDKey = "X-Request-Id"
)

// RequestID reuses the caller's X-Request-Id or generates one, stores it in
// the context and echoes it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderXRequestIDKey)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, id)
		c.Header(HeaderXRequestIDKey, id)
		c.Next()
	}
}

// GCtxRequestID returns the request ID stored by RequestID.
func GCtxRequestID(c *gin.Context) string {
	return c.GetString(ContextRequestIDKey)
}

// GCtxRequestIDField returns the request ID as a zap field.
func GCtxRequestIDField(c *gin.Context) zap.Field {
	return zap.String(ContextRequestIDKey, GCtxRequestID(c))
}
