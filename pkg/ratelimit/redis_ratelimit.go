package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript Token Bucket 원자 연산. 시간 단위는 밀리초.
var allowScript = redis.NewScript(`
	local tokens_key = KEYS[1] .. ":tokens"
	local timestamp_key = KEYS[1] .. ":timestamp"
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local tokens = tonumber(redis.call('GET', tokens_key))
	local last_update = tonumber(redis.call('GET', timestamp_key))
	if tokens == nil or last_update == nil then
		tokens = limit
		last_update = now
	end

	local refill_rate = limit / window
	local new_tokens = math.min(limit, tokens + math.max(0, now - last_update) * refill_rate)

	local allowed = 0
	if new_tokens >= 1 then
		new_tokens = new_tokens - 1
		allowed = 1
	end

	redis.call('SET', tokens_key, tostring(new_tokens), 'PX', window * 2)
	redis.call('SET', timestamp_key, now, 'PX', window * 2)

	local until_next = 0
	if new_tokens < 1 then
		until_next = math.ceil((1 - new_tokens) / refill_rate)
	end
	return {allowed, math.floor(new_tokens), now + until_next}
`)

// RedisRateLimiter Redis 기반 분산 Rate Limiter. 인스턴스 간 버킷을 공유한다.
type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
	limit     int
	window    time.Duration
}

// NewRedisRateLimiter 기존 클라이언트를 재사용한다
func NewRedisRateLimiter(client *redis.Client, keyPrefix string, limit int, window time.Duration) *RedisRateLimiter {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
	}
}

// Allow 요청 허용 여부와 상세 정보 반환
func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, *RateLimitInfo, error) {
	now := time.Now().UnixMilli()

	result, err := allowScript.Run(ctx, r.client, []string{r.keyPrefix + key},
		r.limit, r.window.Milliseconds(), now).Result()
	if err != nil {
		return false, nil, fmt.Errorf("redis script execution failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 3 {
		return false, nil, fmt.Errorf("invalid script result")
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	reset, _ := values[2].(int64)

	return allowed == 1, &RateLimitInfo{
		Limit:     r.limit,
		Remaining: int(remaining),
		ResetTime: time.UnixMilli(reset),
	}, nil
}
