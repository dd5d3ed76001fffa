// Package core holds helpers shared by the HTTP handlers and command entry points.
package core

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/moweilong/widgetauth/pkg/errorsx"
)

// ErrorResponse is the body written for failed requests.
type ErrorResponse struct {
	// Reason is the stable error class.
	Reason string `json:"reason,omitempty"`
	// Message is a human readable description.
	Message string `json:"message,omitempty"`
	// Metadata carries extra error context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// WriteResponse writes data as JSON, or the error envelope when err is non-nil.
func WriteResponse(c *gin.Context, data any, err error) {
	if err != nil {
		x := errorsx.FromError(err)
		c.JSON(x.Code, ErrorResponse{
			Reason:   x.Reason,
			Message:  x.Message,
			Metadata: x.Metadata,
		})
		return
	}

	c.JSON(http.StatusOK, data)
}

// AbortWithError writes the error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	WriteResponse(c, nil, err)
	c.Abort()
}
