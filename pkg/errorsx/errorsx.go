// Package errorsx defines the structured error type returned by widgetauth APIs.
package errorsx

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorX carries an HTTP status, a stable machine readable reason and a human message.
type ErrorX struct {
	// Code is the HTTP status code returned to clients.
	Code int `json:"code,omitempty"`

	// Reason identifies the error class, for example "Unauthenticated.CredentialAcquisition".
	Reason string `json:"reason,omitempty"`

	// Message is safe to show to callers.
	Message string `json:"message,omitempty"`

	// Metadata holds extra context such as the upstream status.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates an ErrorX.
func New(code int, reason string, format string, args ...any) *ErrorX {
	return &ErrorX{
		Code:    code,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func (err *ErrorX) Error() string {
	return fmt.Sprintf("error: code = %d reason = %s message = %s metadata = %v", err.Code, err.Reason, err.Message, err.Metadata)
}

// WithMessage returns a copy with its message replaced.
func (err *ErrorX) WithMessage(format string, args ...any) *ErrorX {
	out := err.clone()
	out.Message = fmt.Sprintf(format, args...)
	return out
}

// WithMetadata returns a copy with md merged into its metadata.
func (err *ErrorX) WithMetadata(md map[string]string) *ErrorX {
	out := err.clone()
	for k, v := range md {
		out.Metadata[k] = v
	}
	return out
}

// KV returns a copy with the key/value pairs added to its metadata. A trailing odd key is ignored.
func (err *ErrorX) KV(kvs ...string) *ErrorX {
	out := err.clone()
	for i := 0; i+1 < len(kvs); i += 2 {
		out.Metadata[kvs[i]] = kvs[i+1]
	}
	return out
}

// Is matches errors with the same code and reason, so copies produced by
// WithMessage and KV still match the catalogue entry they came from.
func (err *ErrorX) Is(target error) bool {
	var t *ErrorX
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == err.Code && t.Reason == err.Reason
}

func (err *ErrorX) clone() *ErrorX {
	md := make(map[string]string, len(err.Metadata))
	for k, v := range err.Metadata {
		md[k] = v
	}
	return &ErrorX{Code: err.Code, Reason: err.Reason, Message: err.Message, Metadata: md}
}

// Code returns the HTTP status of err, 200 for nil and 500 for unknown errors.
func Code(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return FromError(err).Code
}

// Reason returns the reason of err, or an empty string for unknown errors.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	return FromError(err).Reason
}

// FromError converts any error into an ErrorX. Errors that are not ErrorX
// become an internal error carrying the original text.
func FromError(err error) *ErrorX {
	if err == nil {
		return nil
	}
	var x *ErrorX
	if errors.As(err, &x) {
		return x
	}
	return New(http.StatusInternalServerError, "InternalError", "%s", err.Error())
}
