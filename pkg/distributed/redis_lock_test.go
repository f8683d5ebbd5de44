package distributed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLock_AcquireAndRelease(t *testing.T) {
	client := setupRedisClient(t)
	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, "test:lock", "instance1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lock)

	// 동일한 키로 다시 획득 시도 (실패해야 함)
	lock2, err := manager.AcquireLock(ctx, "test:lock", "instance2", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.Nil(t, lock2)

	require.NoError(t, lock.Release(ctx))

	lock3, err := manager.AcquireLock(ctx, "test:lock", "instance3", 5*time.Second)
	require.NoError(t, err)
	defer lock3.Release(ctx)
}

func TestRedisLock_SafeRelease(t *testing.T) {
	client := setupRedisClient(t)
	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "test:safe", "instance1", 500*time.Millisecond)
	require.NoError(t, err)

	// Lock 만료 대기
	time.Sleep(700 * time.Millisecond)

	lock2, err := manager.AcquireLock(ctx, "test:safe", "instance2", 5*time.Second)
	require.NoError(t, err)
	defer lock2.Release(ctx)

	// 다른 인스턴스의 Lock은 해제할 수 없다
	assert.ErrorIs(t, lock1.Release(ctx), ErrLockNotHeld)
	assert.ErrorIs(t, lock1.Extend(ctx, time.Second), ErrLockNotHeld)

	held, err := lock2.IsHeld(ctx)
	assert.NoError(t, err)
	assert.True(t, held)
}

func TestRedisLock_AcquireOrExtend(t *testing.T) {
	client := setupRedisClient(t)
	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock, err := manager.AcquireOrExtend(ctx, nil, "test:leader", "instance1", time.Second)
	require.NoError(t, err)

	same, err := manager.AcquireOrExtend(ctx, lock, "test:leader", "instance1", 5*time.Second)
	require.NoError(t, err)
	assert.Same(t, lock, same)

	_, err = manager.AcquireOrExtend(ctx, nil, "test:leader", "instance2", time.Second)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestRedisLock_TryLockWithRetry(t *testing.T) {
	client := setupRedisClient(t)
	manager := NewRedisLockManager(client)
	ctx := context.Background()

	lock1, err := manager.AcquireLock(ctx, "test:retry", "instance1", 5*time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(400 * time.Millisecond)
		lock1.Release(context.Background())
	}()

	lock2, err := manager.TryLockWithRetry(ctx, "test:retry", "instance2", 5*time.Second, 5, 200*time.Millisecond)
	require.NoError(t, err)
	defer lock2.Release(ctx)
}

func TestRedisLock_ConcurrentAcquire(t *testing.T) {
	client := setupRedisClient(t)
	manager := NewRedisLockManager(client)

	const numGoroutines = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			instanceID := fmt.Sprintf("instance%d", id)
			if _, err := manager.AcquireLock(context.Background(), "test:concurrent", instanceID, 5*time.Second); err == nil {
				mu.Lock()
				winners = append(winners, instanceID)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, winners, 1, "Only one instance should acquire the lock")
}
