package widgetauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/moweilong/widgetauth/pkg/credential"
	"github.com/moweilong/widgetauth/pkg/log"
)

var (
	epoch       = time.Unix(1_700_000_000, 0)
	errUpstream = &credential.AcquisitionError{Op: credential.OpMint, Status: http.StatusServiceUnavailable}
	tokenSeq    atomic.Int64
)

// makeToken builds an unsigned JWT shaped token expiring at exp.
func makeToken(exp time.Time) string {
	payload := fmt.Sprintf(`{"exp":%d,"jti":"t%d"}`, exp.Unix(), tokenSeq.Add(1))
	return "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".sig"
}

// fakeCredentials counts calls and answers with the configured functions.
// When gate is set, Mint blocks until it is closed.
type fakeCredentials struct {
	mu        sync.Mutex
	mints     int
	refreshes int
	owners    []string
	refreshed []string

	gate      chan struct{}
	mintFn    func(n int) (string, error)
	refreshFn func(n int, cur string) (string, error)
}

func (f *fakeCredentials) Mint(ctx context.Context, owner string) (string, error) {
	f.mu.Lock()
	f.mints++
	n := f.mints
	f.owners = append(f.owners, owner)
	gate, fn := f.gate, f.mintFn
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn == nil {
		return "", errors.New("mint not configured")
	}
	return fn(n)
}

func (f *fakeCredentials) Refresh(_ context.Context, cur string) (string, error) {
	f.mu.Lock()
	f.refreshes++
	n := f.refreshes
	f.refreshed = append(f.refreshed, cur)
	fn := f.refreshFn
	f.mu.Unlock()

	if fn == nil {
		return "", errors.New("refresh not configured")
	}
	return fn(n, cur)
}

func (f *fakeCredentials) counts() (mints, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mints, f.refreshes
}

func (f *fakeCredentials) setMint(fn func(n int) (string, error)) {
	f.mu.Lock()
	f.mintFn = fn
	f.mu.Unlock()
}

func (f *fakeCredentials) setRefresh(fn func(n int, cur string) (string, error)) {
	f.mu.Lock()
	f.refreshFn = fn
	f.mu.Unlock()
}

func newTestRegistry(t *testing.T, creds Credentials, opts ...Option) (*Registry, *clocktesting.FakeClock) {
	t.Helper()
	clk := clocktesting.NewFakeClock(epoch)
	base := []Option{
		WithClock(clk),
		WithLogger(log.Nop()),
		WithCredentials(func(string, *http.Client) Credentials { return creds }),
	}
	r := NewRegistry(append(base, opts...)...)
	t.Cleanup(r.Close)
	return r, clk
}
