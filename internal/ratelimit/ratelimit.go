// Package ratelimit throttles the unauthenticated LTI endpoints per client.
package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const DefaultCleanupInterval = 5 * time.Minute

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter keeps one token bucket per key (client IP by default).
type Limiter struct {
	rps     rate.Limit
	burst   int
	cleanup time.Duration
	key     func(*http.Request) string
	log     zerolog.Logger

	mu      sync.Mutex
	buckets map[string]*entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New starts a limiter. A non-positive rps disables limiting.
func New(rps float64, burst int, log zerolog.Logger) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		cleanup: DefaultCleanupInterval,
		key:     ClientIP,
		log:     log,
		buckets: make(map[string]*entry),
		stopCh:  make(chan struct{}),
	}
	if rps > 0 {
		go l.cleanupLoop()
	}
	return l
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Len reports how many keys currently hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	if l.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := l.key(r)
		if !l.get(k).Allow() {
			l.log.Warn().Str("remote_ip", k).Str("path", r.URL.Path).Msg("rate limit exceeded")
			writeTooMany(w, l.rps)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Limiter) get(k string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.buckets[k]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[k] = e
	}
	e.lastAccess = time.Now()
	return e.limiter
}

func (l *Limiter) cleanupLoop() {
	t := time.NewTicker(l.cleanup)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.evict(time.Now().Add(-2 * l.cleanup))
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) evict(before time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.buckets {
		if e.lastAccess.Before(before) {
			delete(l.buckets, k)
		}
	}
}

// ClientIP strips the port from RemoteAddr (already rewritten by RealIP).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooMany(w http.ResponseWriter, r rate.Limit) {
	retry := int(math.Ceil(1.0 / float64(r)))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
}
