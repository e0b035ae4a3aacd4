package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	redisLockPrefix = "lock:otp:"
	pollInterval    = 25 * time.Millisecond
	releaseTimeout  = 2 * time.Second
)

var errHeld = errors.New("held by another owner")

// releaseScript deletes the key only if it still carries the caller's token,
// so an expired lock re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every instance pointing at the same
// Redis. Locks expire after ttl so a crashed holder cannot wedge a key.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewRedisLocker builds a RedisLocker. wait bounds how long Lock polls for a
// held key before giving up.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = ttl
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, logger: logger}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisLockPrefix + key
	token := uuid.NewString()

	backoff := retry.WithMaxDuration(l.wait, retry.NewConstant(pollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errHeld)
		}
		return nil
	})
	if errors.Is(err, errHeld) || ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("release lock", "key", redisKey, "error", err)
			}
		})
	}, nil
}
