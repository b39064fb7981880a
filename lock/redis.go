package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by a shared Redis instance.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *zap.Logger
}

// RedisOption tunes a Redis locker.
type RedisOption func(*Redis)

// WithTTL bounds how long a crashed holder can keep a key.
func WithTTL(ttl time.Duration) RedisOption { return func(r *Redis) { r.ttl = ttl } }

// WithRetry sets the poll interval while waiting for a busy key.
func WithRetry(d time.Duration) RedisOption { return func(r *Redis) { r.retry = d } }

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) RedisOption { return func(r *Redis) { r.log = l } }

// NewRedis creates a Redis locker. Keys are stored under prefix.
func NewRedis(client redis.UniversalClient, prefix string, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: prefix,
		ttl:    30 * time.Second,
		retry:  25 * time.Millisecond,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock acquires every key, polling until ctx is done.
func (r *Redis) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = normalizeKeys(keys)
	token := uuid.New().String()
	held := make([]string, 0, len(keys))

	for _, k := range keys {
		if err := r.acquire(ctx, r.prefix+k, token); err != nil {
			r.release(held, token)
			return nil, err
		}
		held = append(held, r.prefix+k)
	}

	var once sync.Once
	return func() { once.Do(func() { r.release(held, token) }) }, nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("acquire %s: %w", key, ctxErr)
			}
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) release(keys []string, token string) {
	// Release even if the caller's context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Err(); err != nil && err != redis.Nil {
			r.log.Warn("failed to release lock", zap.String("key", keys[i]), zap.Error(err))
		}
	}
}

var _ Locker = (*Redis)(nil)
