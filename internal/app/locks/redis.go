package locks

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/R3E-Network/staking_ledger/pkg/logger"
)

const (
	defaultLockTTL  = 30 * time.Second
	defaultRetryGap = 25 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every process pointed at the same redis
// instance. Each lock is a key holding a random token with a TTL so a crashed
// holder cannot wedge the pair forever.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

// NewRedisLocker wraps client. An empty prefix defaults to "staking:lock:".
func NewRedisLocker(client redis.UniversalClient, prefix string, log *logger.Logger) *RedisLocker {
	if prefix == "" {
		prefix = "staking:lock:"
	}
	if log == nil {
		log = logger.NewDefault("locks")
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: defaultLockTTL, retry: defaultRetryGap, log: log}
}

// WithTTL overrides how long a lock survives without being released.
func (l *RedisLocker) WithTTL(ttl time.Duration) *RedisLocker {
	if ttl > 0 {
		l.ttl = ttl
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ErrNotAcquired
			}
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ErrNotAcquired
		case <-ticker.C:
		}
	}

	return func() {
		// Release on a fresh context; the caller's may already be done.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, l.client, []string{name}, token).Err(); err != nil {
			l.log.WithError(err).WithField("key", key).Warn("release redis lock")
		}
	}, nil
}
