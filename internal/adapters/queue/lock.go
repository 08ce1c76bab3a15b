package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if the caller still owns it, so an
// expired lock taken over by another process is never released by the
// original holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is the Redis-backed usecase.Locker.
type Locker struct {
	client *redis.Client
}

// NewLocker creates a Redis distributed lock provider.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// TryAcquire attempts to take the named lock for ttl. On success the
// returned release function frees the lock early; the lock expires on its
// own otherwise.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	fullKey := lockKey(key)

	acquired, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil || !acquired {
		return nil, false, err
	}

	release := func() {
		releaseScript.Run(context.Background(), l.client, []string{fullKey}, token)
	}
	return release, true, nil
}

func lockKey(key string) string {
	return keyPrefix + "lock:" + key
}
