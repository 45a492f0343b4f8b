package lti

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const (
	DefaultKeySetMaxAge   = 10 * time.Minute
	DefaultKeySetCooldown = 30 * time.Second

	maxKeySetBytes = 1 << 20
)

// KeySource resolves a verification key by kid.
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

// KeySetCache holds the platform's published key set. The set is refetched
// when older than MaxAge, or when an unknown kid is requested and at least
// Cooldown has passed since the previous fetch attempt.
type KeySetCache struct {
	url      string
	client   *http.Client
	maxAge   time.Duration
	cooldown time.Duration
	now      func() time.Time
	observe  func(err error)

	mu          sync.Mutex
	keys        map[string]jose.JSONWebKey
	refreshedAt time.Time
	lastAttempt time.Time
}

type KeySetOption func(*KeySetCache)

func WithHTTPClient(c *http.Client) KeySetOption {
	return func(k *KeySetCache) { k.client = c }
}

func WithMaxAge(d time.Duration) KeySetOption {
	return func(k *KeySetCache) {
		if d > 0 {
			k.maxAge = d
		}
	}
}

func WithCooldown(d time.Duration) KeySetOption {
	return func(k *KeySetCache) {
		if d >= 0 {
			k.cooldown = d
		}
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) KeySetOption {
	return func(k *KeySetCache) { k.now = now }
}

// WithRefreshObserver is called after every fetch attempt with its error.
func WithRefreshObserver(fn func(err error)) KeySetOption {
	return func(k *KeySetCache) { k.observe = fn }
}

func NewKeySetCache(url string, opts ...KeySetOption) *KeySetCache {
	c := &KeySetCache{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		maxAge:   DefaultKeySetMaxAge,
		cooldown: DefaultKeySetCooldown,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LastRefreshed is the time of the last successful fetch (zero if none).
func (c *KeySetCache) LastRefreshed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshedAt
}

func (c *KeySetCache) Key(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: token has no kid", ErrUnknownKey)
	}
	now := c.now()

	c.mu.Lock()
	keys := c.keys
	fresh := keys != nil && now.Sub(c.refreshedAt) < c.maxAge
	coolingDown := !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.cooldown
	c.mu.Unlock()

	if k, ok := keys[kid]; ok && fresh {
		return k.Key, nil
	}
	if coolingDown {
		if k, ok := keys[kid]; ok {
			return k.Key, nil
		}
		return nil, fmt.Errorf("%w: kid %q (refresh cooling down)", ErrUnknownKey, kid)
	}

	// Concurrent callers may both fetch here; the later write wins.
	fetched, err := c.fetch(ctx)
	if c.observe != nil {
		c.observe(err)
	}
	c.mu.Lock()
	c.lastAttempt = now
	if err == nil {
		c.keys = fetched
		c.refreshedAt = now
	}
	c.mu.Unlock()

	if err != nil {
		if k, ok := keys[kid]; ok {
			return k.Key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnknownKey, err)
	}
	if k, ok := fetched[kid]; ok {
		return k.Key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

func (c *KeySetCache) fetch(ctx context.Context) (map[string]jose.JSONWebKey, error) {
	if c.url == "" {
		return nil, errors.New("key set url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch key set: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch key set: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, fmt.Errorf("read key set: %w", err)
	}
	return parseKeySet(body)
}

// parseKeySet skips entries go-jose cannot decode instead of failing the
// whole document; platforms occasionally publish key types we never use.
func parseKeySet(body []byte) (map[string]jose.JSONWebKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}
	out := make(map[string]jose.JSONWebKey, len(doc.Keys))
	for _, raw := range doc.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(raw); err != nil {
			continue
		}
		if k.KeyID == "" || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		out[k.KeyID] = k
	}
	return out, nil
}
