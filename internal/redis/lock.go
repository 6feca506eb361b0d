package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-queue-scheduler/internal/locking"
)

const lockRetryStep = 10 * time.Millisecond

type dayLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewDayLocker creates a locker that holds one Redis key per provider-day.
// Callers poll for up to wait before giving up with locking.ErrLockNotAcquired.
func NewDayLocker(client *redis.Client, ttl, wait time.Duration) locking.Locker {
	return &dayLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
	}
}

func (l *dayLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := "lock:" + key
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	defer func() {
		// release on a fresh context so a cancelled caller still frees the key
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.release(relCtx, redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *dayLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)
	step := lockRetryStep

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire provider-day lock: %w", err)
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return locking.ErrLockNotAcquired
		}
		if step > remaining {
			step = remaining
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire provider-day lock: %w", ctx.Err())
		case <-time.After(step):
		}
		if step < 100*time.Millisecond {
			step *= 2
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *dayLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release provider-day lock: %w", err)
	}
	return nil
}
