package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/integrity"
)

const lockKeyPrefix = "hms:lock:"

// releaseScript deletes the key only while it still holds our token, so a
// holder whose lock expired cannot release a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is a single-instance Redis lock (SET NX PX). It implements
// integrity.Locker.
type Locker struct {
	client redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

func NewLocker(client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Locker{client: client, ttl: ttl, logger: logger}
}

// Acquire takes key for the configured TTL. It returns
// integrity.ErrAnchorInFlight when the key is already held and wraps any
// Redis error, so callers that fail closed can refuse to proceed.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	full := lockKeyPrefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", key, integrity.ErrAnchorInFlight)
	}

	release := func() {
		// The caller's context may already be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{full}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", full).Msg("failed to release lock")
		}
	}
	return release, nil
}
