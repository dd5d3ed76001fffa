package widgetauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/broadcast"
)

const (
	owner   = "owner-secret"
	apiBase = "https://api.example.com"
	wait    = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// stepUntilCalled checks nothing happens before d and the refresh cycle
// starts exactly at d.
func stepUntilCalled(t *testing.T, clk *clocktesting.FakeClock, creds *fakeCredentials, d time.Duration) {
	t.Helper()
	before := totalCalls(creds)

	clk.Step(d - time.Second)
	assert.Never(t, func() bool { return totalCalls(creds) != before }, 50*time.Millisecond, tick)

	clk.Step(time.Second)
	require.Eventually(t, func() bool { return totalCalls(creds) != before }, wait, tick)
}

func totalCalls(creds *fakeCredentials) int {
	m, r := creds.counts()
	return m + r
}

func waitForTimer(t *testing.T, clk *clocktesting.FakeClock, m *Manager, state State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == state && clk.HasWaiters() }, wait, tick)
}

func TestEnsureTokenMintsOnce(t *testing.T) {
	creds := &fakeCredentials{mintFn: func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil }}
	r, _ := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)
	assert.Equal(t, StateUninitialized, m.State())

	tok, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	again, err := m.EnsureToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, tok, again)
	assert.Equal(t, StateActive, m.State())
	mints, _ := creds.counts()
	assert.Equal(t, 1, mints)
	assert.Equal(t, []string{owner}, creds.owners)
	held, ok := m.Token()
	assert.True(t, ok)
	assert.Equal(t, tok, held)
	assert.True(t, m.IssuedAt().Equal(epoch))
}

func TestEnsureTokenSingleFlight(t *testing.T) {
	const callers = 50
	token := makeToken(epoch.Add(time.Hour))
	creds := &fakeCredentials{
		gate:   make(chan struct{}),
		mintFn: func(int) (string, error) { return token, nil },
	}
	r, _ := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	var (
		wg      sync.WaitGroup
		results = make(chan string, callers)
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.EnsureToken(context.Background())
			assert.NoError(t, err)
			results <- tok
		}()
	}

	require.Eventually(t, func() bool { return m.State() == StateMinting }, wait, tick)
	time.Sleep(20 * time.Millisecond)
	close(creds.gate)
	wg.Wait()
	close(results)

	for tok := range results {
		assert.Equal(t, token, tok)
	}
	mints, _ := creds.counts()
	assert.Equal(t, 1, mints)
}

func TestEnsureTokenMintFailure(t *testing.T) {
	creds := &fakeCredentials{
		gate:   make(chan struct{}),
		mintFn: func(int) (string, error) { return "", errUpstream },
	}
	r, clk := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	errs := make(chan error, 3)
	for range 3 {
		go func() {
			_, err := m.EnsureToken(context.Background())
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return m.State() == StateMinting }, wait, tick)
	time.Sleep(20 * time.Millisecond)
	close(creds.gate)

	for range 3 {
		err := <-errs
		assert.ErrorIs(t, err, errno.ErrCredentialAcquisition)
	}
	assert.Equal(t, StateUninitialized, m.State())
	assert.False(t, clk.HasWaiters())
	_, ok := m.Token()
	assert.False(t, ok)

	failed, _ := creds.counts()
	creds.setMint(func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil })
	_, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	mints, _ := creds.counts()
	assert.Equal(t, failed+1, mints)
}

func TestEnsureTokenCallerCancellation(t *testing.T) {
	token := makeToken(epoch.Add(time.Hour))
	creds := &fakeCredentials{
		gate:   make(chan struct{}),
		mintFn: func(int) (string, error) { return token, nil },
	}
	r, _ := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.EnsureToken(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(creds.gate)
	require.Eventually(t, func() bool { return m.State() == StateActive }, wait, tick)

	tok, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, tok)
	mints, _ := creds.counts()
	assert.Equal(t, 1, mints)
}

func TestRefreshScheduling(t *testing.T) {
	tests := []struct {
		name  string
		token func() string
		delay time.Duration
	}{
		{name: "clamped to minimum", token: func() string { return makeToken(epoch.Add(130 * time.Second)) }, delay: 15 * time.Second},
		{name: "buffer before expiry", token: func() string { return makeToken(epoch.Add(time.Hour)) }, delay: 3480 * time.Second},
		{name: "undecodable expiry", token: func() string { return "opaque-token" }, delay: 600 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := tt.token()
			creds := &fakeCredentials{
				mintFn:    func(int) (string, error) { return first, nil },
				refreshFn: func(int, string) (string, error) { return makeToken(epoch.Add(24 * time.Hour)), nil },
			}
			r, clk := newTestRegistry(t, creds)
			m := r.GetOrCreate(owner, apiBase)

			_, err := m.EnsureToken(context.Background())
			require.NoError(t, err)
			require.True(t, clk.HasWaiters())

			stepUntilCalled(t, clk, creds, tt.delay)
			require.Eventually(t, func() bool { tok, _ := m.Token(); return tok != first }, wait, tick)
			assert.Equal(t, []string{first}, creds.refreshed)
			assert.Equal(t, StateActive, m.State())
		})
	}
}

func TestRefreshFallsBackToMint(t *testing.T) {
	minted := make(chan string, 4)
	creds := &fakeCredentials{
		mintFn: func(n int) (string, error) {
			tok := makeToken(epoch.Add(time.Duration(n) * time.Hour))
			minted <- tok
			return tok, nil
		},
		refreshFn: func(int, string) (string, error) { return "", errUpstream },
	}
	r, clk := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	var seen []string
	var mu sync.Mutex
	m.Subscribe(func(tok string) {
		mu.Lock()
		seen = append(seen, tok)
		mu.Unlock()
	})

	_, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	first := <-minted

	stepUntilCalled(t, clk, creds, 3480*time.Second)
	second := <-minted

	waitForTimer(t, clk, m, StateActive)
	tok, _ := m.Token()
	assert.Equal(t, second, tok)
	mints, refreshes := creds.counts()
	assert.Equal(t, 2, mints)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 15*time.Second, m.RetryDelay())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, wait, tick)
	mu.Lock()
	assert.Equal(t, []string{first, second}, seen)
	mu.Unlock()

	// The minted token is refreshed on the regular schedule once refresh recovers.
	creds.setRefresh(func(int, string) (string, error) { return makeToken(epoch.Add(5 * time.Hour)), nil })
	stepUntilCalled(t, clk, creds, 3600*time.Second)
	waitForTimer(t, clk, m, StateActive)
	mints, refreshes = creds.counts()
	assert.Equal(t, 2, mints)
	assert.Equal(t, 2, refreshes)
	assert.Equal(t, second, creds.refreshed[1])
}

func TestBackoffGrowsAndResets(t *testing.T) {
	var failing atomic.Bool
	creds := &fakeCredentials{
		mintFn: func(n int) (string, error) {
			if n > 1 && failing.Load() {
				return "", errUpstream
			}
			return makeToken(epoch.Add(10 * time.Hour)), nil
		},
		refreshFn: func(int, string) (string, error) {
			if failing.Load() {
				return "", errUpstream
			}
			return makeToken(epoch.Add(100 * time.Hour)), nil
		},
	}
	failing.Store(true)

	r, clk := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	first, err := m.EnsureToken(context.Background())
	require.NoError(t, err)

	// The first refresh is due 120s before the 10h expiry.
	stepUntilCalled(t, clk, creds, 10*time.Hour-120*time.Second)

	for _, d := range []time.Duration{15, 30, 60, 120, 240, 480, 600} {
		waitForTimer(t, clk, m, StateBackoff)

		// Failures in the background never reach callers holding a token.
		tok, err := m.EnsureToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first, tok)

		stepUntilCalled(t, clk, creds, d*time.Second)
	}

	// Capped: the cycle that just failed waits 600s again.
	waitForTimer(t, clk, m, StateBackoff)
	failing.Store(false)
	stepUntilCalled(t, clk, creds, 600*time.Second)
	waitForTimer(t, clk, m, StateActive)
	assert.Equal(t, 15*time.Second, m.RetryDelay())

	// One success resets the next failure's delay.
	failing.Store(true)
	tok, _ := m.Token()
	require.NotEqual(t, first, tok)
	stepUntilCalled(t, clk, creds, 100*time.Hour-120*time.Second-clk.Since(epoch))
	waitForTimer(t, clk, m, StateBackoff)
	stepUntilCalled(t, clk, creds, 15*time.Second)
}

func TestDestroyDiscardsLateMint(t *testing.T) {
	creds := &fakeCredentials{
		gate:   make(chan struct{}),
		mintFn: func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil },
	}
	var broadcasts atomic.Int32
	r, clk := newTestRegistry(t, creds, WithBroadcaster(broadcast.Func(func(context.Context, broadcast.Event) error {
		broadcasts.Add(1)
		return nil
	})))
	m := r.GetOrCreate(owner, apiBase)

	var notified atomic.Int32
	m.Subscribe(func(string) { notified.Add(1) })

	errs := make(chan error, 1)
	go func() {
		_, err := m.EnsureToken(context.Background())
		errs <- err
	}()
	require.Eventually(t, func() bool { return m.State() == StateMinting }, wait, tick)

	m.Destroy()
	assert.Equal(t, StateDestroyed, m.State())
	assert.Equal(t, 0, m.SubscriberCount())
	close(creds.gate)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, errno.ErrManagerDestroyed)
	case <-time.After(wait):
		t.Fatal("EnsureToken did not return")
	}
	assert.False(t, clk.HasWaiters())
	assert.Equal(t, int32(0), notified.Load())
	assert.Equal(t, int32(0), broadcasts.Load())
	_, ok := m.Token()
	assert.False(t, ok)
}

func TestDestroy(t *testing.T) {
	creds := &fakeCredentials{mintFn: func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil }}
	r, clk := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	_, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	require.True(t, clk.HasWaiters())

	m.Destroy()
	m.Destroy()

	assert.False(t, clk.HasWaiters())
	assert.Equal(t, 0, r.Len())
	_, err = m.EnsureToken(context.Background())
	assert.ErrorIs(t, err, errno.ErrManagerDestroyed)

	unsubscribe := m.Subscribe(func(string) { t.Fatal("destroyed manager notified") })
	unsubscribe()
	assert.Equal(t, 0, m.SubscriberCount())

	fresh := r.GetOrCreate(owner, apiBase)
	assert.NotSame(t, m, fresh)
	assert.Equal(t, StateUninitialized, fresh.State())
}

func TestSubscribeReplaysHeldToken(t *testing.T) {
	creds := &fakeCredentials{mintFn: func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil }}
	r, _ := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	var before []string
	m.Subscribe(func(tok string) { before = append(before, tok) })
	assert.Empty(t, before)

	tok, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{tok}, before)

	var got string
	m.Subscribe(func(s string) { got = s })
	assert.Equal(t, tok, got, "held token must be delivered before Subscribe returns")
}

func TestStaleReplayIsDropped(t *testing.T) {
	creds := &fakeCredentials{}
	r, _ := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	var got []string
	sub := &subscriber{fn: func(tok string) { got = append(got, tok) }}
	m.deliver(sub, "second", 2)
	m.deliver(sub, "first", 1)
	m.deliver(sub, "second", 2)

	assert.Equal(t, []string{"second"}, got)
}

func TestSubscribeDuringRotation(t *testing.T) {
	creds := &fakeCredentials{}
	r, _ := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	const rotations = 200
	type recorder struct {
		mu   sync.Mutex
		seen []string
	}
	recorders := make([]*recorder, 20)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= rotations; i++ {
			_, err := m.accept(fmt.Sprintf("tok-%04d", i))
			assert.NoError(t, err)
		}
	}()
	for i := range recorders {
		rec := &recorder{}
		recorders[i] = rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Subscribe(func(tok string) {
				rec.mu.Lock()
				rec.seen = append(rec.seen, tok)
				rec.mu.Unlock()
			})
		}()
	}
	wg.Wait()

	last, ok := m.Token()
	require.True(t, ok)
	require.Equal(t, fmt.Sprintf("tok-%04d", rotations), last)

	// Tokens arrive strictly in acquisition order and the held token is the
	// last one each subscriber saw.
	for _, rec := range recorders {
		rec.mu.Lock()
		require.NotEmpty(t, rec.seen)
		for j := 1; j < len(rec.seen); j++ {
			assert.Less(t, rec.seen[j-1], rec.seen[j])
		}
		assert.Equal(t, last, rec.seen[len(rec.seen)-1])
		rec.mu.Unlock()
	}
}

func TestUnsubscribe(t *testing.T) {
	creds := &fakeCredentials{
		mintFn:    func(int) (string, error) { return makeToken(epoch.Add(130 * time.Second)), nil },
		refreshFn: func(int, string) (string, error) { return makeToken(epoch.Add(time.Hour)), nil },
	}
	r, clk := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	var kept, dropped atomic.Int32
	m.Subscribe(func(string) { kept.Add(1) })
	unsubscribe := m.Subscribe(func(string) { dropped.Add(1) })

	_, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, m.SubscriberCount())

	stepUntilCalled(t, clk, creds, 15*time.Second)
	require.Eventually(t, func() bool { return kept.Load() == 2 }, wait, tick)
	assert.Equal(t, int32(1), dropped.Load())
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	creds := &fakeCredentials{mintFn: func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil }}
	r, _ := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	var got atomic.Value
	m.Subscribe(func(string) { panic("widget exploded") })
	m.Subscribe(func(tok string) { got.Store(tok) })

	tok, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, got.Load())
	assert.Equal(t, 2, m.SubscriberCount())
	assert.Equal(t, StateActive, m.State())

	assert.NotPanics(t, func() { m.Subscribe(func(string) { panic("again") }) })
}

func TestBroadcast(t *testing.T) {
	events := make(chan broadcast.Event, 1)
	creds := &fakeCredentials{mintFn: func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil }}
	r, _ := newTestRegistry(t, creds, WithBroadcaster(broadcast.Func(func(_ context.Context, e broadcast.Event) error {
		events <- e
		return nil
	})))

	tok, err := r.GetOrCreate(owner, apiBase+"/").EnsureToken(context.Background())
	require.NoError(t, err)

	e := <-events
	assert.Equal(t, broadcast.EventName, e.Name)
	assert.Equal(t, tok, e.Token)
	assert.Equal(t, owner, e.OwnerToken)
	assert.Equal(t, apiBase, e.APIBase)
	assert.True(t, e.IssuedAt.Equal(epoch))
}

func TestBroadcastFailureIsNotFatal(t *testing.T) {
	creds := &fakeCredentials{mintFn: func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil }}
	r, _ := newTestRegistry(t, creds, WithBroadcaster(broadcast.Func(func(context.Context, broadcast.Event) error {
		return errors.New("no event bus")
	})))
	m := r.GetOrCreate(owner, apiBase)

	var got string
	m.Subscribe(func(tok string) { got = tok })

	tok, err := m.EnsureToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok, got)
	assert.Equal(t, StateActive, m.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "backoff", StateBackoff.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "****", maskToken("abc"))
	assert.Equal(t, "owne****", maskToken("owner-secret"))
}
