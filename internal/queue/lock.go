package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work on a shared resource across worker processes.
// Acquire is a try-lock: it returns a release function when the lock was
// taken, or acquired=false when another holder has it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX leases. Each lease carries a
// random token and release only deletes the key while the token still
// matches, so a holder whose lease expired cannot delete a successor's lock.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	release := func() {
		// Release uses its own context so a cancelled task still frees
		// the lock.
		releaseScript.Run(context.Background(), l.client, []string{key}, token)
	}
	return release, true, nil
}
