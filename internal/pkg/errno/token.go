package errno

import (
	"net/http"

	"github.com/moweilong/widgetauth/pkg/errorsx"
)

var (
	// ErrCredentialAcquisition means a mint or refresh call failed. Network errors,
	// non-2xx answers and answers without a token are all reported this way.
	ErrCredentialAcquisition = &errorsx.ErrorX{Code: http.StatusBadGateway, Reason: "Unavailable.CredentialAcquisition", Message: "Credential acquisition failed."}

	// ErrManagerDestroyed is returned by a manager after Destroy.
	ErrManagerDestroyed = &errorsx.ErrorX{Code: http.StatusGone, Reason: "FailedPrecondition.ManagerDestroyed", Message: "Token manager has been destroyed."}

	// ErrMalformedToken means a token could not be decoded.
	ErrMalformedToken = &errorsx.ErrorX{Code: http.StatusBadRequest, Reason: "InvalidArgument.MalformedToken", Message: "Token is malformed."}

	// ErrInvalidOwnerToken means the owner token is unknown to the credential server.
	ErrInvalidOwnerToken = &errorsx.ErrorX{Code: http.StatusUnauthorized, Reason: "Unauthenticated.InvalidOwnerToken", Message: "Owner token is invalid."}

	// ErrTokenInvalid means a widget token failed signature or expiry checks.
	ErrTokenInvalid = &errorsx.ErrorX{Code: http.StatusUnauthorized, Reason: "Unauthenticated.TokenInvalid", Message: "Token was invalid."}

	// ErrTokenRevoked means a widget token was already exchanged by a refresh.
	ErrTokenRevoked = &errorsx.ErrorX{Code: http.StatusUnauthorized, Reason: "Unauthenticated.TokenRevoked", Message: "Token has been revoked."}

	// ErrTenantNotFound means the agent has no tenant with the requested name.
	ErrTenantNotFound = &errorsx.ErrorX{Code: http.StatusNotFound, Reason: "NotFound.TenantNotFound", Message: "Tenant not found."}

	// ErrUpstreamUnavailable means a proxied request could not reach the tenant API.
	ErrUpstreamUnavailable = &errorsx.ErrorX{Code: http.StatusBadGateway, Reason: "Unavailable.Upstream", Message: "Tenant API is unavailable."}
)
