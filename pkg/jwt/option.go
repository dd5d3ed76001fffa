package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"k8s.io/utils/clock"

	"github.com/moweilong/widgetauth/pkg/jwt/core"
	"github.com/moweilong/widgetauth/pkg/jwt/store"
)

const (
	// DefaultTTL is the lifetime of an issued widget token.
	DefaultTTL = 15 * time.Minute
	// DefaultRenewGrace is how long after expiry a token may still be renewed.
	DefaultRenewGrace = 5 * time.Minute
	// DefaultIssuer is the iss claim of issued tokens.
	DefaultIssuer = "widgetauth"
)

type options struct {
	method     jwt.SigningMethod
	ttl        time.Duration
	renewGrace time.Duration
	issuer     string
	clock      clock.PassiveClock
	store      core.RevocationStore
}

func defaultOptions() *options {
	return &options{
		method:     jwt.SigningMethodHS256,
		ttl:        DefaultTTL,
		renewGrace: DefaultRenewGrace,
		issuer:     DefaultIssuer,
		clock:      clock.RealClock{},
	}
}

// Option configures an Issuer.
type Option func(*options)

// WithSigningMethod sets the HMAC signing method. HS256 is used by default.
func WithSigningMethod(m *jwt.SigningMethodHMAC) Option {
	return func(o *options) {
		if m != nil {
			o.method = m
		}
	}
}

// WithTTL sets the lifetime of issued tokens.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithRenewGrace sets how long after expiry a token may be renewed.
func WithRenewGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.renewGrace = d
		}
	}
}

// WithIssuer sets the iss claim written and required by the Issuer.
func WithIssuer(iss string) Option {
	return func(o *options) {
		o.issuer = iss
	}
}

// WithClock sets the time source.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithStore sets where renewed token IDs are revoked. A memory store is used by default.
func WithStore(s core.RevocationStore) Option {
	return func(o *options) {
		o.store = s
	}
}

func (o *options) revocations() core.RevocationStore {
	if o.store == nil {
		o.store = store.Default()
	}
	return o.store
}
