package repository

import (
	"context"
	"time"

	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SequenceLocker is a SET NX PX lock so that replicas sharing a signing key
// do not interleave sequence numbers.
type SequenceLocker struct {
	client *redis.Client
	retry  time.Duration
}

func NewSequenceLocker(client *RedisClient) *SequenceLocker {
	return &SequenceLocker{client: client.Client, retry: 50 * time.Millisecond}
}

// Lock waits until key is free or ctx is done. The lock expires after ttl
// if the holder dies.
func (l *SequenceLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, apperrors.New(apperrors.ErrInternal, "shared sequence lock unavailable", err)
		}
		if ok {
			return func(ctx context.Context) error {
				return unlockScript.Run(ctx, l.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.NewChainUnavailable("timed out waiting for shared sequence lock", ctx.Err())
		case <-ticker.C:
		}
	}
}
