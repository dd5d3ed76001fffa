// Package jwt issues and renews the HMAC signed widget tokens handed out by
// the reference credential server.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/jwt/core"
)

var errEmptyKey = errors.New("jwt: signing key cannot be empty")

// Claims are the claims of a widget token. The subject is the tenant name.
type Claims struct {
	jwt.RegisteredClaims
}

// Tenant returns the tenant the token was issued to.
func (c *Claims) Tenant() string {
	return c.Subject
}

// Issuer signs, verifies and renews widget tokens.
type Issuer struct {
	key   []byte
	opts  *options
	store core.RevocationStore
}

// NewIssuer creates an Issuer signing with key.
func NewIssuer(key []byte, opts ...Option) (*Issuer, error) {
	if len(key) == 0 {
		return nil, errEmptyKey
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Issuer{key: key, opts: o, store: o.revocations()}, nil
}

// Store returns the revocation store.
func (i *Issuer) Store() core.RevocationStore {
	return i.store
}

// Issue creates a token for tenant.
func (i *Issuer) Issue(tenant string) (string, *Claims, error) {
	now := i.opts.clock.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.opts.issuer,
			Subject:   tenant,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.opts.ttl)),
			ID:        uuid.NewString(),
		},
	}

	token, err := jwt.NewWithClaims(i.opts.method, claims).SignedString(i.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign widget token: %w", err)
	}
	return token, claims, nil
}

// Verify checks the signature, expiry and revocation of token.
func (i *Issuer) Verify(ctx context.Context, token string) (*Claims, error) {
	return i.verify(ctx, token, 0)
}

// Renew exchanges token for a new one issued to the same tenant. Tokens
// expired by no more than the renew grace are accepted. The presented token
// is revoked, so each token renews at most once.
func (i *Issuer) Renew(ctx context.Context, token string) (string, *Claims, error) {
	old, err := i.verify(ctx, token, i.opts.renewGrace)
	if err != nil {
		return "", nil, err
	}

	if err := i.Revoke(ctx, old); err != nil {
		return "", nil, err
	}
	return i.Issue(old.Tenant())
}

// Revoke rejects the token carrying claims from now on.
func (i *Issuer) Revoke(ctx context.Context, claims *Claims) error {
	until := claims.ExpiresAt.Add(i.opts.renewGrace)
	if err := i.store.Revoke(ctx, claims.ID, until); err != nil {
		return fmt.Errorf("revoke widget token: %w", err)
	}
	return nil
}

func (i *Issuer) verify(ctx context.Context, token string, leeway time.Duration) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{i.opts.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.opts.issuer),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(i.opts.clock.Now),
	)

	claims := &Claims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return i.key, nil }); err != nil {
		return nil, errno.ErrTokenInvalid.WithMessage("%s", err.Error())
	}
	if claims.ID == "" {
		return nil, errno.ErrTokenInvalid.WithMessage("token has no jti")
	}

	revoked, err := i.store.Revoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check widget token revocation: %w", err)
	}
	if revoked {
		return nil, errno.ErrTokenRevoked
	}
	return claims, nil
}
