package jwt

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/jwt/store"
)

var (
	key   = []byte("secret key")
	epoch = time.Unix(1_700_000_000, 0)
)

func newTestIssuer(t *testing.T, opts ...Option) (*Issuer, *clocktesting.FakePassiveClock) {
	t.Helper()
	clk := clocktesting.NewFakePassiveClock(epoch)
	base := []Option{
		WithClock(clk),
		WithTTL(10 * time.Minute),
		WithRenewGrace(2 * time.Minute),
		WithStore(store.NewMemoryStoreWithClock(clk)),
	}
	i, err := NewIssuer(key, append(base, opts...)...)
	require.NoError(t, err)
	return i, clk
}

func TestNewIssuerRequiresKey(t *testing.T) {
	_, err := NewIssuer(nil)
	assert.ErrorIs(t, err, errEmptyKey)

	i, err := NewIssuer(key)
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, i.Store())
}

func TestIssueAndVerify(t *testing.T) {
	i, _ := newTestIssuer(t)

	token, claims, err := i.Issue("acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.Tenant())
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.Equal(t, epoch.Add(10*time.Minute), claims.ExpiresAt.Time)
	assert.NotEmpty(t, claims.ID)

	got, err := i.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, claims.ID, got.ID)
	assert.Equal(t, "acme", got.Tenant())

	other, _, err := i.Issue("acme")
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestVerifyRejects(t *testing.T) {
	i, clk := newTestIssuer(t)
	token, _, err := i.Issue("acme")
	require.NoError(t, err)

	foreign, err := NewIssuer([]byte("other key"), WithClock(clk))
	require.NoError(t, err)
	forged, _, err := foreign.Issue("acme")
	require.NoError(t, err)

	hs512, err := NewIssuer(key, WithClock(clk), WithSigningMethod(jwt.SigningMethodHS512))
	require.NoError(t, err)
	wrongAlg, _, err := hs512.Issue("acme")
	require.NoError(t, err)

	otherIss, err := NewIssuer(key, WithClock(clk), WithIssuer("someone-else"))
	require.NoError(t, err)
	wrongIss, _, err := otherIss.Issue("acme")
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": DefaultIssuer, "jti": "x"}).SignedString(key)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":     "not-a-token",
		"tampered":    token[:len(token)-2] + "xx",
		"foreign key": forged,
		"wrong alg":   wrongAlg,
		"wrong iss":   wrongIss,
		"no exp":      noExp,
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := i.Verify(context.Background(), tok)
			assert.ErrorIs(t, err, errno.ErrTokenInvalid)
		})
	}

	clk.SetTime(epoch.Add(10*time.Minute + time.Second))
	_, err = i.Verify(context.Background(), token)
	assert.ErrorIs(t, err, errno.ErrTokenInvalid, "expired tokens fail verification")
}

func TestRenew(t *testing.T) {
	ctx := context.Background()
	i, clk := newTestIssuer(t)
	token, claims, err := i.Issue("acme")
	require.NoError(t, err)

	// Expired but within the grace window.
	clk.SetTime(epoch.Add(11 * time.Minute))
	renewed, newClaims, err := i.Renew(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "acme", newClaims.Tenant())
	assert.NotEqual(t, claims.ID, newClaims.ID)
	assert.Equal(t, clk.Now().Add(10*time.Minute), newClaims.ExpiresAt.Time)

	_, _, err = i.Renew(ctx, token)
	assert.ErrorIs(t, err, errno.ErrTokenRevoked, "a token renews at most once")
	_, err = i.Verify(ctx, renewed)
	assert.NoError(t, err)

	count, err := i.Store().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRenewOutsideGrace(t *testing.T) {
	i, clk := newTestIssuer(t)
	token, _, err := i.Issue("acme")
	require.NoError(t, err)

	clk.SetTime(epoch.Add(12*time.Minute + time.Second))
	_, _, err = i.Renew(context.Background(), token)
	assert.ErrorIs(t, err, errno.ErrTokenInvalid)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	i, _ := newTestIssuer(t)
	token, claims, err := i.Issue("acme")
	require.NoError(t, err)

	require.NoError(t, i.Revoke(ctx, claims))
	_, err = i.Verify(ctx, token)
	assert.ErrorIs(t, err, errno.ErrTokenRevoked)
}
