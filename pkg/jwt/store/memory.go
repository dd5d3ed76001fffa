package store

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/moweilong/widgetauth/pkg/jwt/core"
)

var _ core.RevocationStore = (*MemoryStore)(nil)

// MemoryStore keeps revocations in process memory. It is safe for concurrent
// use and suitable for a single auth server instance.
type MemoryStore struct {
	clock clock.PassiveClock

	mu      sync.RWMutex
	revoked map[string]*core.Revocation
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(clock.RealClock{})
}

// NewMemoryStoreWithClock creates a MemoryStore that reads time from c.
func NewMemoryStoreWithClock(c clock.PassiveClock) *MemoryStore {
	return &MemoryStore{
		clock:   c,
		revoked: make(map[string]*core.Revocation),
	}
}

func (s *MemoryStore) Revoke(_ context.Context, id string, until time.Time) error {
	if id == "" {
		return core.ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.revoked[id] = &core.Revocation{ID: id, Until: until, Created: s.clock.Now()}
	return nil
}

func (s *MemoryStore) Revoked(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	s.mu.RLock()
	r, ok := s.revoked[id]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if r.Lapsed(s.clock.Now()) {
		s.mu.Lock()
		delete(s.revoked, id)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Cleanup(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleaned int
	now := s.clock.Now()
	for id, r := range s.revoked {
		if r.Lapsed(now) {
			delete(s.revoked, id)
			cleaned++
		}
	}
	return cleaned, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.revoked), nil
}

// Clear removes every revocation. Useful for tests.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revoked = make(map[string]*core.Revocation)
}
