// Package core provides the interfaces shared by the jwt package and its stores.
package core

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyID is returned when a store is asked to revoke a token without an ID.
var ErrEmptyID = errors.New("token id cannot be empty")

// RevocationStore remembers revoked token IDs until the tokens could no
// longer be accepted anyway.
type RevocationStore interface {
	// Revoke marks id as revoked until the given time.
	Revoke(ctx context.Context, id string, until time.Time) error

	// Revoked reports whether id is currently revoked.
	Revoked(ctx context.Context, id string) (bool, error)

	// Cleanup drops entries whose revocation has lapsed and returns how many
	// were removed.
	Cleanup(ctx context.Context) (int, error)

	// Count returns the number of revoked IDs held.
	Count(ctx context.Context) (int, error)
}

// Revocation is the record kept for each revoked token.
type Revocation struct {
	ID      string    `json:"id"`
	Until   time.Time `json:"until"`
	Created time.Time `json:"created"`
}

// Lapsed reports whether the revocation no longer matters at now.
func (r *Revocation) Lapsed(now time.Time) bool {
	return !now.Before(r.Until)
}
