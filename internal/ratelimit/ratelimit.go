// Package ratelimit provides fixed-window counters backing the API rate
// limiter: Redis when the deployment has one, process memory otherwise.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"eventdigest/internal/core"
)

// KeyPrefix namespaces rate limit counters in Redis.
const KeyPrefix = "eventdigest:ratelimit:"

// incrScript increments the counter, starts the window on the first hit and
// returns the count with the remaining window in milliseconds.
const incrScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`

type evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisStore counts requests in Redis so every instance shares one window.
type RedisStore struct {
	client evaler
	now    func() time.Time
}

// NewRedisStore wraps a go-redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// IncrementAndCheck implements core.RateLimitStore.
func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	raw, err := s.client.Eval(ctx, incrScript, []string{KeyPrefix + key}, window.Milliseconds()).Result()
	if err != nil {
		return core.RateLimitResult{}, fmt.Errorf("rate limit incr: %w", err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 2 {
		return core.RateLimitResult{}, fmt.Errorf("rate limit incr: unexpected reply %v", raw)
	}
	count, ok1 := vals[0].(int64)
	ttlMS, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return core.RateLimitResult{}, fmt.Errorf("rate limit incr: unexpected reply %v", raw)
	}
	// PTTL is -1 if the key lost its expiry; treat it as a fresh window.
	if ttlMS < 0 {
		ttlMS = window.Milliseconds()
	}

	return result(int(count), limit, s.now().Add(time.Duration(ttlMS)*time.Millisecond)), nil
}

// MemoryStore counts requests per process. Suitable for a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	now     func() time.Time
	calls   int
}

type memWindow struct {
	count   int
	resetAt time.Time
}

// sweepEvery is how many calls pass between sweeps of expired windows.
const sweepEvery = 1024

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memWindow), now: time.Now}
}

// IncrementAndCheck implements core.RateLimitStore.
func (s *MemoryStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.calls++
	if s.calls%sweepEvery == 0 {
		for k, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, k)
			}
		}
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++

	return result(w.count, limit, w.resetAt), nil
}

func result(count, limit int, resetAt time.Time) core.RateLimitResult {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return core.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

var (
	_ core.RateLimitStore = (*RedisStore)(nil)
	_ core.RateLimitStore = (*MemoryStore)(nil)
)
