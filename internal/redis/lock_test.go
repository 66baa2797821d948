package redisclient

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExcludesConcurrentHolders(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- locker.WithLock(ctx, ProviderKey("Dr. Somchai"), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	err := locker.WithLock(ctx, ProviderKey("Dr. Somchai"), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// Other keys are independent.
	require.NoError(t, locker.WithLock(ctx, ProviderKey("Dr. Malee"), func(context.Context) error { return nil }))

	close(release)
	require.NoError(t, <-done)

	require.NoError(t, locker.WithLock(ctx, ProviderKey("Dr. Somchai"), func(context.Context) error { return nil }))
}

func TestLocalLockerReleasesOnError(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), JobKey("reminder"), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = locker.WithLock(context.Background(), JobKey("reminder"), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestLocalLockerBoundsContextByTTL(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)

	err := locker.WithLock(context.Background(), JobKey("cleanup"), func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
		return nil
	})
	require.NoError(t, err)
}

func TestLocalLockerSerializesCriticalSection(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	var inside, acquired atomic.Int32
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), "k", func(context.Context) error {
				assert.Equal(t, int32(1), inside.Add(1))
				acquired.Add(1)
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, acquired.Load(), int32(1))
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, Options{Addr: addr})
	require.NoError(t, err)
	defer rdb.Close()

	locker := NewRedisLocker(rdb, 2*time.Second)
	key := JobKey("test-" + uuid.NewString())

	err = locker.WithLock(ctx, key, func(ctx context.Context) error {
		inner := locker.WithLock(ctx, key, func(context.Context) error { return nil })
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)

	exists, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
