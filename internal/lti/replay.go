package lti

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard marks a launch nonce consumed. Use returns true only the first
// time a value is seen within ttl.
type ReplayGuard interface {
	Use(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryReplay is a process-local ReplayGuard. It purges expired entries
// every purgeN calls.
type MemoryReplay struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	useCount uint64
	purgeN   uint64
	now      func() time.Time
}

func NewMemoryReplay(purgeEvery int) *MemoryReplay {
	if purgeEvery <= 0 {
		purgeEvery = 1024
	}
	return &MemoryReplay{
		entries: make(map[string]time.Time, 256),
		purgeN:  uint64(purgeEvery),
		now:     time.Now,
	}
}

func (m *MemoryReplay) Use(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, errors.New("replay: empty nonce")
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.useCount++
	if m.useCount%m.purgeN == 0 {
		for k, until := range m.entries {
			if !until.After(now) {
				delete(m.entries, k)
			}
		}
	}
	if until, ok := m.entries[nonce]; ok && until.After(now) {
		return false, nil
	}
	m.entries[nonce] = now.Add(ttl)
	return true, nil
}

// RedisReplay shares consumed nonces across instances.
type RedisReplay struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisReplay(client redis.UniversalClient, prefix string) *RedisReplay {
	if prefix == "" {
		prefix = "lti:nonce:"
	}
	return &RedisReplay{client: client, prefix: prefix}
}

func (r *RedisReplay) Use(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, errors.New("replay: empty nonce")
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return r.client.SetNX(ctx, r.prefix+nonce, 1, ttl).Result()
}
