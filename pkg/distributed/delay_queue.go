package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DelayQueue 지정 시각까지 보관했다가 대상 RedisQueue로 옮기는 지연 큐.
// 같은 key로 다시 예약하면 이전 예약을 덮어쓴다.
type DelayQueue struct {
	client      *redis.Client
	scheduleKey string // key -> 만기 시각(ms) (Sorted Set)
	payloadKey  string // key -> 메시지 (Hash)
	target      *RedisQueue
}

// NewDelayQueue 지연 큐 생성
func NewDelayQueue(client *redis.Client, queueName string, target *RedisQueue) *DelayQueue {
	return &DelayQueue{
		client:      client,
		scheduleKey: fmt.Sprintf("delay:%s", queueName),
		payloadKey:  fmt.Sprintf("delay:%s:payloads", queueName),
		target:      target,
	}
}

// 만기된 예약을 대상 큐의 대기열로 원자적으로 이동
var promoteScript = redis.NewScript(`
	local keys = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
	for _, key in ipairs(keys) do
		local data = redis.call('HGET', KEYS[2], key)
		redis.call('ZREM', KEYS[1], key)
		redis.call('HDEL', KEYS[2], key)
		if data then
			local id = cjson.decode(data).id
			redis.call('HSET', KEYS[4], id, data)
			redis.call('ZADD', KEYS[3], ARGV[1], id)
		end
	end
	return #keys
`)

// Schedule due 시각에 msg를 대상 큐로 보낸다
func (d *DelayQueue) Schedule(ctx context.Context, key string, msg *Message, due time.Time) error {
	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.MaxRetries <= 0 {
		msg.MaxRetries = DefaultMaxRetries
	}
	msg.UpdatedAt = now

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.payloadKey, key, data)
		pipe.ZAdd(ctx, d.scheduleKey, redis.Z{Score: float64(due.UnixMilli()), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule: %w", err)
	}
	return nil
}

// Remove 예약 취소. 이미 이동된 예약이면 false.
func (d *DelayQueue) Remove(ctx context.Context, key string) (bool, error) {
	var removed *redis.IntCmd
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, d.scheduleKey, key)
		pipe.HDel(ctx, d.payloadKey, key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove schedule: %w", err)
	}
	return removed.Val() > 0, nil
}

// PromoteDue now 이전에 만기된 예약을 최대 limit개 대상 큐로 옮긴다
func (d *DelayQueue) PromoteDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	keys := []string{d.scheduleKey, d.payloadKey, d.target.queueKey, d.target.itemsKey}
	n, err := promoteScript.Run(ctx, d.client, keys, now.UnixMilli(), limit).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to promote due messages: %w", err)
	}
	return n, nil
}

// Len 예약된 메시지 수
func (d *DelayQueue) Len(ctx context.Context) (int64, error) {
	return d.client.ZCard(ctx, d.scheduleKey).Result()
}
