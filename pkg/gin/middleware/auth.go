package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/core"
	"github.com/moweilong/widgetauth/pkg/jwt"
)

// HeaderAuthorizationKey http header authorization key, value is "Bearer token"
const HeaderAuthorizationKey = "Authorization"

const claimsKey = "claims"

// Verifier checks a bearer token. *jwt.Issuer implements it.
type Verifier interface {
	Verify(ctx context.Context, token string) (*jwt.Claims, error)
}

// ExtraVerifyFn runs after the token verified.
type ExtraVerifyFn = func(claims *jwt.Claims, c *gin.Context) error

// AuthOption set the auth options.
type AuthOption func(*authOptions)

type authOptions struct {
	extraVerifyFn ExtraVerifyFn
}

// WithExtraVerify set extra verify function
func WithExtraVerify(fn ExtraVerifyFn) AuthOption {
	return func(o *authOptions) {
		o.extraVerifyFn = fn
	}
}

// Auth rejects requests without a valid "Bearer <token>" Authorization header
// and stores the verified claims in the context.
func Auth(v Verifier, opts ...AuthOption) gin.HandlerFunc {
	o := &authOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader(HeaderAuthorizationKey))
		if !ok {
			core.AbortWithError(c, errno.ErrTokenInvalid.WithMessage("missing bearer token"))
			return
		}

		claims, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			core.AbortWithError(c, err)
			return
		}
		if o.extraVerifyFn != nil {
			if err := o.extraVerifyFn(claims, c); err != nil {
				core.AbortWithError(c, err)
				return
			}
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// GetClaims get jwt claims from gin context.
func GetClaims(c *gin.Context) (*jwt.Claims, bool) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*jwt.Claims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}
