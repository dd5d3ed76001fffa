// Package store provides revocation stores for the jwt package: an in-memory
// store for single instances and a Redis store for shared deployments.
package store

import "github.com/moweilong/widgetauth/pkg/jwt/core"

type (
	RevocationStore = core.RevocationStore
	Revocation      = core.Revocation
)

// Default creates a memory-based store.
func Default() core.RevocationStore {
	return NewMemoryStore()
}
