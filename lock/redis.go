package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisTTL      = 30 * time.Second
	redisRetryMinBackoff = 10 * time.Millisecond
	redisRetryMaxBackoff = 250 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another node is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX and an owner token. The TTL
// bounds how long a crashed holder can block the key; it should exceed the
// longest bridge transaction.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: "lock:"}
}

func (l *RedisLocker) Acquire(ctx context.Context, _ pgx.Tx, key Key) (func(), error) {
	name := l.prefix + key.String()
	token := uuid.NewString()
	backoff := redisRetryMinBackoff

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis acquire %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock: redis acquire %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
		if backoff > redisRetryMaxBackoff {
			backoff = redisRetryMaxBackoff
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err()
	}, nil
}
