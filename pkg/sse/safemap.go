package sse

import "sync"

// SafeMap is a concurrent map of connection ID to subscriber.
type SafeMap struct {
	m sync.Map
}

// NewSafeMap creates an empty SafeMap.
func NewSafeMap() *SafeMap {
	return &SafeMap{}
}

// Set stores s under id.
func (sm *SafeMap) Set(id string, s *Subscriber) {
	sm.m.Store(id, s)
}

// Get returns the subscriber stored under id.
func (sm *SafeMap) Get(id string) (*Subscriber, bool) {
	v, ok := sm.m.Load(id)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Subscriber)
	return s, ok
}

// Delete removes id.
func (sm *SafeMap) Delete(id string) {
	sm.m.Delete(id)
}

// Has reports whether id is present.
func (sm *SafeMap) Has(id string) bool {
	_, ok := sm.m.Load(id)
	return ok
}

// Range calls f for every subscriber until f returns false.
func (sm *SafeMap) Range(f func(id string, s *Subscriber) bool) {
	sm.m.Range(func(k, v any) bool {
		id, _ := k.(string)
		s, ok := v.(*Subscriber)
		if !ok {
			return true
		}
		return f(id, s)
	})
}

// Len counts the entries. It walks the whole map.
func (sm *SafeMap) Len() int {
	n := 0
	sm.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
