package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/lti/login", nil)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBurstThenThrottle(t *testing.T) {
	l := New(0.5, 2, zerolog.Nop())
	defer l.Stop()
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	assert.Equal(t, http.StatusNoContent, hit(h, "198.51.100.1:1234").Code)
	assert.Equal(t, http.StatusNoContent, hit(h, "198.51.100.1:5678").Code)
	rec := hit(h, "198.51.100.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	// separate bucket per client
	assert.Equal(t, http.StatusNoContent, hit(h, "198.51.100.2:1234").Code)
	assert.Equal(t, 2, l.Len())
}

func TestDisabled(t *testing.T) {
	l := New(0, 0, zerolog.Nop())
	defer l.Stop()
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	for i := 0; i < 50; i++ {
		assert.Equal(t, http.StatusNoContent, hit(h, "198.51.100.1:1").Code)
	}
	assert.Zero(t, l.Len())
}

func TestEvict(t *testing.T) {
	l := New(1, 1, zerolog.Nop())
	defer l.Stop()
	l.get("a")
	l.evict(time.Now().Add(time.Second))
	assert.Zero(t, l.Len())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:443"
	assert.Equal(t, "203.0.113.9", ClientIP(r))
	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", ClientIP(r))
}
