// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"time"

	"github.com/aiorreal/quota-core/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker is a short-TTL mutual-exclusion lock, used by the Wallet Manager
// to serialize concurrent EnsureActive calls for the same user across
// process instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

// RedisLocker implements Locker via SETNX + a Lua compare-and-delete
// unlock so a holder never releases a lock it does not own.
type RedisLocker struct {
	cli *Client
}

// NewLocker wraps a Client for locking.
func NewLocker(c *Client) *RedisLocker {
	return &RedisLocker{cli: c}
}

// TryLock attempts to acquire key for ttl, retrying a handful of times
// with a short backoff before giving up with ErrLockNotAcquired. The
// lock is advisory: the Wallet Manager proceeds without it when it is
// not acquired.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < 5; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl)
		if err != nil {
			continue
		}
		if ok {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return "", domain.ErrLockNotAcquired
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Unlock releases key only if it is still held by token.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.cli.Eval(ctx, luaUnlock, []string{key}, token)
	return err
}
