package lti_test

import (
	"context"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-assistant/internal/lti"
	"github.com/mind-engage/lti-assistant/internal/lti/ltitest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestKeySetCacheServesFromCache(t *testing.T) {
	p := ltitest.New(t)
	clk := &fakeClock{t: time.Now()}
	c := lti.NewKeySetCache(p.JWKSURL(), lti.WithClock(clk.Now))
	ctx := context.Background()

	k, err := c.Key(ctx, p.KID())
	require.NoError(t, err)
	assert.IsType(t, &rsa.PublicKey{}, k)
	assert.Equal(t, clk.Now(), c.LastRefreshed())

	for i := 0; i < 5; i++ {
		_, err := c.Key(ctx, p.KID())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.Fetches())
}

func TestKeySetCacheRefreshesWhenStale(t *testing.T) {
	p := ltitest.New(t)
	clk := &fakeClock{t: time.Now()}
	c := lti.NewKeySetCache(p.JWKSURL(), lti.WithClock(clk.Now))
	ctx := context.Background()

	_, err := c.Key(ctx, p.KID())
	require.NoError(t, err)

	clk.Advance(lti.DefaultKeySetMaxAge + time.Second)
	_, err = c.Key(ctx, p.KID())
	require.NoError(t, err)
	assert.Equal(t, 2, p.Fetches())
}

func TestKeySetCacheCooldownOnUnknownKid(t *testing.T) {
	p := ltitest.New(t)
	clk := &fakeClock{t: time.Now()}
	c := lti.NewKeySetCache(p.JWKSURL(), lti.WithClock(clk.Now))
	ctx := context.Background()

	_, err := c.Key(ctx, "missing")
	assert.ErrorIs(t, err, lti.ErrUnknownKey)
	assert.Equal(t, 1, p.Fetches())

	// repeated bad kids inside the cooldown do not hit the platform
	for i := 0; i < 10; i++ {
		_, err = c.Key(ctx, "missing")
		assert.ErrorIs(t, err, lti.ErrUnknownKey)
	}
	assert.Equal(t, 1, p.Fetches())

	clk.Advance(lti.DefaultKeySetCooldown + time.Second)
	_, err = c.Key(ctx, "missing")
	assert.ErrorIs(t, err, lti.ErrUnknownKey)
	assert.Equal(t, 2, p.Fetches())
}

func TestKeySetCacheKeepsStaleKeysOnFetchFailure(t *testing.T) {
	p := ltitest.New(t)
	var fail atomic.Bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		p.Server.Config.Handler.ServeHTTP(w, r)
	}))
	t.Cleanup(proxy.Close)

	clk := &fakeClock{t: time.Now()}
	var observed []error
	c := lti.NewKeySetCache(proxy.URL, lti.WithClock(clk.Now), lti.WithRefreshObserver(func(err error) {
		observed = append(observed, err)
	}))
	ctx := context.Background()

	_, err := c.Key(ctx, p.KID())
	require.NoError(t, err)

	fail.Store(true)
	clk.Advance(lti.DefaultKeySetMaxAge + time.Second)
	_, err = c.Key(ctx, p.KID())
	assert.NoError(t, err, "known key survives a failed refresh")

	_, err = c.Key(ctx, "other")
	assert.ErrorIs(t, err, lti.ErrUnknownKey)

	require.Len(t, observed, 2)
	assert.NoError(t, observed[0])
	assert.Error(t, observed[1])
}

func TestKeySetCacheSkipsUndecodableKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[{"kty":"weird","kid":"x"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := lti.NewKeySetCache(srv.URL)
	_, err := c.Key(context.Background(), "x")
	assert.ErrorIs(t, err, lti.ErrUnknownKey)
}
