// Package errno is the error catalogue shared by the widgetauth components.
package errno

import (
	"net/http"

	"github.com/moweilong/widgetauth/pkg/errorsx"
)

var (
	// OK means the request succeeded.
	OK = &errorsx.ErrorX{Code: http.StatusOK, Message: ""}

	// ErrInternal is an unexpected server side failure.
	ErrInternal = &errorsx.ErrorX{Code: http.StatusInternalServerError, Reason: "InternalError", Message: "Internal server error."}

	// ErrInvalidArgument means the request parameters failed validation.
	ErrInvalidArgument = &errorsx.ErrorX{Code: http.StatusBadRequest, Reason: "InvalidArgument", Message: "Argument verification failed."}

	// ErrPageNotFound is returned for unknown routes.
	ErrPageNotFound = &errorsx.ErrorX{Code: http.StatusNotFound, Reason: "NotFound.PageNotFound", Message: "Page not found."}
)
