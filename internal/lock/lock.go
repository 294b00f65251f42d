// Package lock provides the distributed run lock that keeps two digest runs
// for the same week from sending concurrently across processes.
package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"eventdigest/internal/types"
)

// Locker acquires and releases named locks with an expiry.
type Locker interface {
	// Acquire returns true when ownerID now holds lockID. It returns false,
	// without error, when another owner holds it.
	Acquire(ctx context.Context, lockID, ownerID string, ttl time.Duration) (bool, error)
	// Release frees lockID if ownerID still holds it. Releasing a lock that
	// expired or passed to another owner is a no-op.
	Release(ctx context.Context, lockID, ownerID string) error
}

// KeyPrefix namespaces lock keys in Redis.
const KeyPrefix = "eventdigest:lock:"

// releaseScript deletes the key only while it still holds the caller's owner
// ID, so a run that outlived its TTL cannot free a successor's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// redisCommander is the subset of the go-redis client the locker uses.
type redisCommander interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release script.
type RedisLocker struct {
	client redisCommander
}

// NewRedisLocker wraps an existing go-redis client.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, lockID, ownerID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, KeyPrefix+lockID, ownerID, ttl).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to acquire run lock", err)
	}
	return ok, nil
}

// Release implements Locker.
func (l *RedisLocker) Release(ctx context.Context, lockID, ownerID string) error {
	err := l.client.Eval(ctx, releaseScript, []string{KeyPrefix + lockID}, ownerID).Err()
	if err != nil && err != redis.Nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to release run lock", err)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
