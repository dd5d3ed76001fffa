package schedule

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Timer holds at most one pending callback. Arming it again cancels the
// previous callback, so a holder never has two live timers.
type Timer struct {
	clock clock.WithDelayedExecution

	mu    sync.Mutex
	t     clock.Timer
	gen   uint64
	armed bool
}

// NewTimer creates a Timer driven by c. A nil clock means the real clock.
func NewTimer(c clock.WithDelayedExecution) *Timer {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Timer{clock: c}
}

// After runs fn once d has elapsed, replacing any pending callback. fn runs on
// its own goroutine, outside the clock's callback path, so it may use the clock.
func (t *Timer) After(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.armed = true
	t.t = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if gen != t.gen || !t.armed {
			t.mu.Unlock()
			return
		}
		t.armed = false
		t.t = nil
		t.mu.Unlock()

		go fn()
	})
}

// Stop cancels the pending callback. It reports whether one was pending.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stopLocked()
}

// Armed reports whether a callback is pending.
func (t *Timer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.armed
}

func (t *Timer) stopLocked() bool {
	was := t.armed
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.armed = false
	t.gen++
	return was
}
