// Package schedule computes when a widget token should be refreshed and how
// long to wait after failed attempts.
package schedule

import (
	"math"
	"time"

	"github.com/moweilong/widgetauth/pkg/claims"
)

const (
	// DefaultRefreshBuffer is how long before exp a refresh is attempted.
	DefaultRefreshBuffer = 120 * time.Second
	// DefaultMinRefresh is the shortest refresh wait ever scheduled.
	DefaultMinRefresh = 15 * time.Second
	// DefaultFallbackRefresh is used when a token carries no readable exp.
	DefaultFallbackRefresh = 600 * time.Second

	// DefaultInitialBackoff is the first retry delay after a failed cycle.
	DefaultInitialBackoff = 15 * time.Second
	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = 600 * time.Second
)

// Policy holds the refresh timing constants.
type Policy struct {
	Buffer   time.Duration
	Min      time.Duration
	Fallback time.Duration
}

// DefaultPolicy returns the reference refresh timing.
func DefaultPolicy() Policy {
	return Policy{
		Buffer:   DefaultRefreshBuffer,
		Min:      DefaultMinRefresh,
		Fallback: DefaultFallbackRefresh,
	}
}

// RefreshDelay returns max(exp-now-Buffer, Min), or Fallback when token has no
// readable exp. Expiry is compared at second granularity; an exp too far ahead
// for a time.Duration saturates instead of wrapping.
func (p Policy) RefreshDelay(token string, now time.Time) time.Duration {
	exp, ok := claims.DecodeExpiry(token)
	if !ok {
		return p.Fallback
	}

	left := exp - now.Unix()
	if exp <= now.Unix() {
		return p.Min
	}
	if left > maxSeconds {
		return time.Duration(math.MaxInt64)
	}

	wait := time.Duration(left)*time.Second - p.Buffer
	if wait < p.Min {
		return p.Min
	}
	return wait
}

// maxSeconds is the largest whole number of seconds a time.Duration holds.
const maxSeconds = int64(math.MaxInt64 / time.Second)

// RefreshDelay applies DefaultPolicy.
func RefreshDelay(token string, now time.Time) time.Duration {
	return DefaultPolicy().RefreshDelay(token, now)
}

// Backoff tracks the retry delay across consecutive failures.
// It is not safe for concurrent use; the owning manager serializes access.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a Backoff starting at initial and capped at max.
func NewBackoff(initial, max time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{initial: initial, max: max, current: initial}
}

// Next returns the delay for the retry being scheduled now and doubles the
// delay used for the following one.
func (b *Backoff) Next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max || b.current <= 0 {
		b.current = b.max
	}
	return d
}

// Current returns the delay the next call to Next will return.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Reset restores the initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
}
