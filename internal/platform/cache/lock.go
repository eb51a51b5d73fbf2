package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL    = 10 * time.Second
	lockRetry  = 25 * time.Millisecond
	lockPrefix = "lock:"
)

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// ErrLockTimeout is returned when a lock could not be taken before ctx ended.
var ErrLockTimeout = errors.New("lock timeout")

// Lock takes an exclusive lock on key, polling until it is free or ctx is
// done. The lock expires after lockTTL if the holder never releases it.
func (c *Cache) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	full := lockPrefix + key

	ticker := time.NewTicker(lockRetry)
	defer ticker.Stop()

	for {
		ok, err := c.Client.SetNX(ctx, full, token, lockTTL).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Release on a fresh context so a cancelled request still unlocks.
				rctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := releaseScript.Run(rctx, c.Client, []string{full}, token).Err(); err != nil {
					slog.Warn("failed to release lock", "key", key, "error", err)
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}
