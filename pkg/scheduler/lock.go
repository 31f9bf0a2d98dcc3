package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by TryLock when another holder owns the lock.
var ErrLockHeld = errors.New("scheduler: lock held elsewhere")

// UnlockFunc releases a lock acquired with TryLock.
type UnlockFunc func(ctx context.Context) error

// Locker provides mutual exclusion for named work across instances.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (UnlockFunc, error)
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is never released by us.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLocker implements Locker with SET NX PX and a compare-and-delete
// release.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	token  func() string
}

// NewRedisLocker creates a RedisLocker storing keys under prefix.
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: prefix,
		token:  uuid.NewString,
	}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

// TryLock acquires the lock for name for at most ttl.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (UnlockFunc, error) {
	key := l.key(name)
	token := l.token()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
