package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisRateLimiter 테스트용 Redis Rate Limiter 설정
// 주의: 실제 Redis 서버가 필요합니다 (localhost:6379)
func setupRedisRateLimiter(t *testing.T, limit int, window time.Duration) *RedisRateLimiter {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 테스트용 DB
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis server not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedisRateLimiter(client, "test:ratelimit:", limit, window)
}

func cleanupRedis(t *testing.T, limiter *RedisRateLimiter, keys ...string) {
	t.Helper()
	for _, key := range keys {
		redisKey := limiter.keyPrefix + key
		require.NoError(t, limiter.client.Del(context.Background(), redisKey+":tokens", redisKey+":timestamp").Err())
	}
}

func TestRedisRateLimiter_TokenBucket(t *testing.T) {
	limiter := setupRedisRateLimiter(t, 3, time.Minute)
	ctx := context.Background()
	key := "requester:alice"
	cleanupRedis(t, limiter, key)
	defer cleanupRedis(t, limiter, key)

	t.Run("제한 내 요청은 모두 허용", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			allowed, info, err := limiter.Allow(ctx, key)
			require.NoError(t, err)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
			assert.Equal(t, 3, info.Limit)
			assert.Equal(t, 2-i, info.Remaining)
		}
	})

	t.Run("제한 초과 요청은 거부", func(t *testing.T) {
		allowed, info, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.True(t, info.ResetTime.After(time.Now()))
	})
}

func TestRedisRateLimiter_TokenRefill(t *testing.T) {
	limiter := setupRedisRateLimiter(t, 2, 2*time.Second)
	ctx := context.Background()
	key := "requester:refill"
	cleanupRedis(t, limiter, key)
	defer cleanupRedis(t, limiter, key)

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, _, _ := limiter.Allow(ctx, key)
	assert.False(t, allowed, "Should be denied when tokens exhausted")

	// 1초에 토큰 1개
	time.Sleep(1100 * time.Millisecond)

	allowed, _, _ = limiter.Allow(ctx, key)
	assert.True(t, allowed, "Should be allowed after token refill")
}

func TestRedisRateLimiter_IndependentKeys(t *testing.T) {
	limiter := setupRedisRateLimiter(t, 1, time.Minute)
	ctx := context.Background()
	cleanupRedis(t, limiter, "k1", "k2")
	defer cleanupRedis(t, limiter, "k1", "k2")

	allowed, _, _ := limiter.Allow(ctx, "k1")
	require.True(t, allowed)
	allowed, _, _ = limiter.Allow(ctx, "k1")
	assert.False(t, allowed)

	// 키별 독립
	allowed, _, _ = limiter.Allow(ctx, "k2")
	assert.True(t, allowed)
}

func TestRedisRateLimiter_ConcurrentRequests(t *testing.T) {
	limiter := setupRedisRateLimiter(t, 10, time.Minute)
	ctx := context.Background()
	key := "requester:concurrent"
	cleanupRedis(t, limiter, key)
	defer cleanupRedis(t, limiter, key)

	results := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		go func() {
			allowed, _, _ := limiter.Allow(ctx, key)
			results <- allowed
		}()
	}

	allowedCount := 0
	for i := 0; i < 20; i++ {
		if <-results {
			allowedCount++
		}
	}
	assert.Equal(t, 10, allowedCount)
}

func TestRedisRateLimiter_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	limiter := NewRedisRateLimiter(client, "", 0, 0)
	_, _, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
}
