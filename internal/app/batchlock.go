/**
 * @description
 * Distributed run lock for the billing batch, backed by Redis. A second
 * scheduler instance (or an operator re-running the batch by hand) must not
 * double-charge the same day's subscriptions.
 */
package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRunLock implements RunLock with a SET NX token compare-and-delete release.
type RedisRunLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisRunLock creates a run lock. The TTL bounds how long a crashed batch
// can keep the lock held; it should comfortably exceed a normal batch duration.
func NewRedisRunLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisRunLock {
	if key == "" {
		key = "billing:batch:lock"
	}
	return &RedisRunLock{client: client, key: key, ttl: ttl}
}

// TryAcquire attempts to take the lock. When it succeeds, the returned release
// func frees the lock only if this run still holds it.
func (l *RedisRunLock) TryAcquire(ctx context.Context) (bool, func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}

	release := func() {
		// The batch's ctx may already be done; releasing still matters.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseLockScript.Run(releaseCtx, l.client, []string{l.key}, token).Err()
	}
	return true, release, nil
}
