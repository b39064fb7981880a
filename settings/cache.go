package settings

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/warp/dorm-engine/dorm"
	"go.uber.org/zap"
)

// ErrCacheMiss means the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// KVStore is the cache backend (replaceable in unit tests).
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// =============================================================================
// REDIS KV
// =============================================================================

// RedisKVStore is a KVStore on go-redis.
type RedisKVStore struct {
	client redis.UniversalClient
}

func NewRedisKVStore(client redis.UniversalClient) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKVStore) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// =============================================================================
// LOCAL KV - single process
// =============================================================================

type localItem struct {
	value   string
	expires time.Time // zero = no ttl
}

// LocalKVStore is an in-process KVStore with TTL.
type LocalKVStore struct {
	mu   sync.Mutex
	data map[string]localItem
}

func NewLocalKVStore() *LocalKVStore {
	return &LocalKVStore{data: make(map[string]localItem)}
}

func (l *LocalKVStore) Get(_ context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		delete(l.data, key)
		return "", ErrCacheMiss
	}
	return item.value, nil
}

func (l *LocalKVStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	l.data[key] = localItem{value: value, expires: exp}
	return nil
}

func (l *LocalKVStore) Del(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.data, key)
	return nil
}

// =============================================================================
// CACHED PROVIDER
// =============================================================================

// DefaultCacheKey is where the settings snapshot is cached.
const DefaultCacheKey = "dorm:settings:current"

// CachedProvider serves settings from a KVStore, falling back to source.
// Cache errors degrade to a direct read; they never fail the caller.
type CachedProvider struct {
	source Provider
	kv     KVStore
	key    string
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedProvider(source Provider, kv KVStore, ttl time.Duration, log *zap.Logger) *CachedProvider {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedProvider{source: source, kv: kv, key: DefaultCacheKey, ttl: ttl, log: log}
}

func (c *CachedProvider) Current(ctx context.Context) (dorm.Settings, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if err == nil {
		var s dorm.Settings
		if jerr := json.Unmarshal([]byte(raw), &s); jerr == nil {
			return s, nil
		}
		c.log.Warn("discarding unreadable cached settings", zap.String("key", c.key))
	} else if !errors.Is(err, ErrCacheMiss) {
		c.log.Warn("settings cache read failed", zap.Error(err))
	}

	s, err := c.source.Current(ctx)
	if err != nil {
		return dorm.Settings{}, err
	}
	if b, jerr := json.Marshal(s); jerr == nil {
		if serr := c.kv.Set(ctx, c.key, string(b), c.ttl); serr != nil {
			c.log.Warn("settings cache write failed", zap.Error(serr))
		}
	}
	return s, nil
}

// Invalidate drops the cached snapshot.
func (c *CachedProvider) Invalidate(ctx context.Context) error {
	return c.kv.Del(ctx, c.key)
}

// Invalidator is implemented by caching providers.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

var (
	_ Provider    = (*CachedProvider)(nil)
	_ Invalidator = (*CachedProvider)(nil)
	_ KVStore     = (*RedisKVStore)(nil)
	_ KVStore     = (*LocalKVStore)(nil)
)
