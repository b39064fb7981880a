package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dorm-engine/lock"
)

// exerciseMutualExclusion runs workers that each hold the same key while
// incrementing a counter; no two may be inside at once.
func exerciseMutualExclusion(t *testing.T, l lock.Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), lock.RoomKey("r1"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInside)
}

// =============================================================================
// LOCAL
// =============================================================================

func TestLocal_MutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, lock.NewLocal())
}

func TestLocal_ContextCancelWhileWaiting(t *testing.T) {
	l := lock.NewLocal()
	unlock, err := l.Lock(context.Background(), lock.RoomKey("r1"), lock.TenantKey("t1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, lock.TenantKey("t1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_OrderIndependent(t *testing.T) {
	// GIVEN: two callers asking for the same keys in opposite order
	// THEN: both complete (keys are acquired in sorted order)
	l := lock.NewLocal()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			u, err := l.Lock(context.Background(), "room:a", "room:b")
			if assert.NoError(t, err) {
				u()
			}
		}()
		go func() {
			defer wg.Done()
			u, err := l.Lock(context.Background(), "room:b", "room:a", "room:b")
			if assert.NoError(t, err) {
				u()
			}
		}()
	}
	wg.Wait()
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	l := lock.NewLocal()
	u, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	u()
	u()

	u2, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	u2()
}

// =============================================================================
// REDIS
// =============================================================================

func newRedisLocker(t *testing.T, opts ...lock.RedisOption) (*lock.Redis, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lock.NewRedis(client, "dorm:lock:", append([]lock.RedisOption{lock.WithRetry(time.Millisecond)}, opts...)...), mr
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	l, mr := newRedisLocker(t)

	unlock, err := l.Lock(context.Background(), lock.RoomKey("r1"), lock.BillKey("r1", "2024-03"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("dorm:lock:room:r1"))
	assert.True(t, mr.Exists("dorm:lock:bill:r1:2024-03"))

	unlock()
	assert.False(t, mr.Exists("dorm:lock:room:r1"))
	assert.False(t, mr.Exists("dorm:lock:bill:r1:2024-03"))
}

func TestRedis_BusyKeyTimesOut(t *testing.T) {
	l, _ := newRedisLocker(t)

	unlock, err := l.Lock(context.Background(), lock.RoomKey("r1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, lock.RoomKey("r1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedis_DoesNotReleaseForeignToken(t *testing.T) {
	// GIVEN: our lock expired and someone else now holds the key
	// WHEN: we unlock
	// THEN: their lock survives
	l, mr := newRedisLocker(t, lock.WithTTL(time.Second))

	unlock, err := l.Lock(context.Background(), lock.RoomKey("r1"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("dorm:lock:room:r1", "someone-else"))

	unlock()
	got, err := mr.Get("dorm:lock:room:r1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedis_MutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, l)
}
