package widgetauth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
)

func TestAPIFetch(t *testing.T) {
	token := makeToken(epoch.Add(time.Hour))
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		_, _ = io.WriteString(w, r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	creds := &fakeCredentials{mintFn: func(int) (string, error) { return token, nil }}
	r, _ := newTestRegistry(t, creds, WithHTTPClient(srv.Client()))
	m := r.GetOrCreate(owner, srv.URL)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/widgets/42", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer stale")

	resp, err := m.APIFetch(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/widgets/42", string(body))
	assert.Equal(t, "Bearer "+token, <-gotAuth)
	assert.Equal(t, "Bearer stale", req.Header.Get("Authorization"), "caller request must not be modified")
}

func TestAPIFetchDoesNotRetryUnauthorized(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	creds := &fakeCredentials{mintFn: func(int) (string, error) { return makeToken(epoch.Add(time.Hour)), nil }}
	r, _ := newTestRegistry(t, creds, WithHTTPClient(srv.Client()))
	m := r.GetOrCreate(owner, srv.URL)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := m.APIFetch(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
	mints, refreshes := creds.counts()
	assert.Equal(t, 1, mints)
	assert.Equal(t, 0, refreshes)
}

func TestAPIFetchTokenFailure(t *testing.T) {
	creds := &fakeCredentials{mintFn: func(int) (string, error) { return "", errUpstream }}
	r, _ := newTestRegistry(t, creds)
	m := r.GetOrCreate(owner, apiBase)

	req, _ := http.NewRequest(http.MethodGet, apiBase+"/widgets", nil)
	resp, err := m.APIFetch(context.Background(), req)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errno.ErrCredentialAcquisition)

	m.Destroy()
	_, err = m.APIFetch(context.Background(), req)
	assert.ErrorIs(t, err, errno.ErrManagerDestroyed)
}
