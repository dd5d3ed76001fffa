package credential

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/errorsx"
)

type captured struct {
	method string
	path   string
	auth   string
	ctype  string
	body   map[string]any
}

func newServer(t *testing.T, status int, respBody string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		got.method = r.Method
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		got.ctype = r.Header.Get("Content-Type")
		got.body = map[string]any{}
		_ = sonic.Unmarshal(raw, &got.body)

		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMint(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, `{"token":"widget-1","expires_in":900}`, &got)

	c := NewClient(srv.URL + "///")
	token, err := c.Mint(context.Background(), "owner-secret")
	require.NoError(t, err)

	assert.Equal(t, "widget-1", token)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, MintPath, got.path)
	assert.Equal(t, "owner-secret", got.auth)
	assert.Equal(t, "application/json", got.ctype)
	assert.Empty(t, got.body)
	assert.Equal(t, srv.URL, c.APIBase())
}

func TestMintWithoutOwnerOmitsHeader(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, `{"token":"w"}`, &got)

	_, err := NewClient(srv.URL).Mint(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, got.auth)
}

func TestRefresh(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusCreated, `{"token":"widget-2"}`, &got)

	token, err := NewClient(srv.URL).Refresh(context.Background(), "widget-1")
	require.NoError(t, err)

	assert.Equal(t, "widget-2", token)
	assert.Equal(t, RefreshPath, got.path)
	assert.Equal(t, map[string]any{"token": "widget-1"}, got.body)
	assert.Empty(t, got.auth)
}

func TestAcquisitionFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantPayload map[string]any
	}{
		{name: "non-2xx with token", status: http.StatusUnauthorized, body: `{"token":"x","error":"nope"}`, wantPayload: map[string]any{"token": "x", "error": "nope"}},
		{name: "2xx without token", status: http.StatusOK, body: `{"ok":true}`, wantPayload: map[string]any{"ok": true}},
		{name: "2xx empty token", status: http.StatusOK, body: `{"token":""}`, wantPayload: map[string]any{"token": ""}},
		{name: "2xx non-string token", status: http.StatusOK, body: `{"token":12}`, wantPayload: map[string]any{"token": float64(12)}},
		{name: "invalid json", status: http.StatusInternalServerError, body: `<html>oops</html>`, wantPayload: map[string]any{}},
		{name: "json array", status: http.StatusOK, body: `["token"]`, wantPayload: map[string]any{}},
		{name: "empty body", status: http.StatusBadGateway, body: ``, wantPayload: map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			srv := newServer(t, tt.status, tt.body, &got)

			_, err := NewClient(srv.URL).Refresh(context.Background(), "cur")
			require.Error(t, err)
			assert.ErrorIs(t, err, errno.ErrCredentialAcquisition)

			var acq *AcquisitionError
			require.ErrorAs(t, err, &acq)
			assert.Equal(t, OpRefresh, acq.Op)
			assert.Equal(t, tt.status, acq.Status)
			assert.Equal(t, tt.wantPayload, acq.Payload)
			assert.NoError(t, acq.Err)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Mint(context.Background(), "owner")
	require.Error(t, err)
	assert.ErrorIs(t, err, errno.ErrCredentialAcquisition)

	var acq *AcquisitionError
	require.ErrorAs(t, err, &acq)
	assert.Equal(t, 0, acq.Status)
	assert.Error(t, acq.Err)
	assert.True(t, strings.HasPrefix(acq.Error(), "credential mint failed"))
}

func TestContextCancellation(t *testing.T) {
	var got captured
	srv := newServer(t, http.StatusOK, `{"token":"w"}`, &got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL).Mint(ctx, "owner")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errno.ErrCredentialAcquisition)
}

func TestAcquisitionErrorAsErrorX(t *testing.T) {
	err := error(&AcquisitionError{Op: OpMint, Status: http.StatusForbidden})

	x := errorsx.FromError(err)
	assert.Equal(t, errno.ErrCredentialAcquisition.Reason, x.Reason)
	assert.Equal(t, "403", x.Metadata["status"])
	assert.Equal(t, "mint", x.Metadata["op"])
	assert.False(t, errors.Is(err, errno.ErrTenantNotFound))
}

func TestOversizedBodyIsTruncated(t *testing.T) {
	var got captured
	big := `{"token":"w","pad":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	srv := newServer(t, http.StatusOK, big, &got)

	_, err := NewClient(srv.URL).Mint(context.Background(), "owner")
	assert.ErrorIs(t, err, errno.ErrCredentialAcquisition)
}
