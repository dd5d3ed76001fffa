package middleware

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/appleboy/gofight/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/moweilong/widgetauth/pkg/errorsx"
	"github.com/moweilong/widgetauth/pkg/jwt"
)

func newAuthEngine(t *testing.T, opts ...AuthOption) (*gin.Engine, *jwt.Issuer) {
	t.Helper()
	issuer, err := jwt.NewIssuer([]byte("test-signing-key"))
	require.NoError(t, err)

	r := gin.New()
	r.GET("/whoami", Auth(issuer, opts...), func(c *gin.Context) {
		claims, ok := GetClaims(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"tenant": claims.Tenant()})
	})
	return r, issuer
}

func TestAuth(t *testing.T) {
	r, issuer := newAuthEngine(t)
	token, _, err := issuer.Issue("acme")
	require.NoError(t, err)

	gofight.New().GET("/whoami").
		SetHeader(gofight.H{HeaderAuthorizationKey: "Bearer " + token}).
		Run(r, func(res gofight.HTTPResponse, _ gofight.HTTPRequest) {
			assert.Equal(t, http.StatusOK, res.Code)
			assert.Equal(t, "acme", gjson.Get(res.Body.String(), "tenant").String())
		})
}

func TestAuthRejects(t *testing.T) {
	r, issuer := newAuthEngine(t)
	token, claims, err := issuer.Issue("acme")
	require.NoError(t, err)
	require.NoError(t, issuer.Revoke(context.Background(), claims))

	tests := []struct {
		name   string
		header string
		reason string
	}{
		{name: "missing", header: "", reason: "Unauthenticated.TokenInvalid"},
		{name: "raw owner style", header: token, reason: "Unauthenticated.TokenInvalid"},
		{name: "garbage", header: "Bearer nope", reason: "Unauthenticated.TokenInvalid"},
		{name: "revoked", header: "Bearer " + token, reason: "Unauthenticated.TokenRevoked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gofight.New().GET("/whoami").
				SetHeader(gofight.H{HeaderAuthorizationKey: tt.header}).
				Run(r, func(res gofight.HTTPResponse, _ gofight.HTTPRequest) {
					assert.Equal(t, http.StatusUnauthorized, res.Code)
					assert.Equal(t, tt.reason, gjson.Get(res.Body.String(), "reason").String())
				})
		})
	}
}

func TestAuthExtraVerify(t *testing.T) {
	denied := errorsx.New(http.StatusForbidden, "PermissionDenied", "tenant disabled")
	r, issuer := newAuthEngine(t, WithExtraVerify(func(claims *jwt.Claims, _ *gin.Context) error {
		if claims.Tenant() == "disabled" {
			return denied
		}
		return nil
	}))
	token, _, err := issuer.Issue("disabled")
	require.NoError(t, err)

	gofight.New().GET("/whoami").
		SetHeader(gofight.H{HeaderAuthorizationKey: "Bearer " + token}).
		Run(r, func(res gofight.HTTPResponse, _ gofight.HTTPRequest) {
			assert.Equal(t, http.StatusForbidden, res.Code)
			assert.Equal(t, "PermissionDenied", gjson.Get(res.Body.String(), "reason").String())
		})
	assert.False(t, errors.Is(denied, errorsx.New(http.StatusForbidden, "Other", "")))
}

func TestBearerToken(t *testing.T) {
	tok, ok := bearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = bearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
}
