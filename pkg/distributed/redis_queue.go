package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultMaxRetries = 5

var (
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueFull  = errors.New("queue is full")
)

// Message 큐 메시지 봉투. Payload는 Kind에 따라 해석된다.
type Message struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"max_retries"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewMessage payload를 JSON으로 감싼 메시지 생성
func NewMessage(kind string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Message{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: data,
	}, nil
}

// DeadLetter DLQ 항목
type DeadLetter struct {
	Message Message   `json:"message"`
	Reason  string    `json:"reason"`
	MovedAt time.Time `json:"moved_at"`
}

// RedisQueue Redis 기반 FIFO 작업 큐.
// 대기열은 enqueue 시각(ms)을 score로 하는 Sorted Set이고 본문은 Hash에 보관한다.
type RedisQueue struct {
	client        *redis.Client
	queueKey      string // 대기 ID (Sorted Set)
	itemsKey      string // 대기 본문 (Hash)
	processingKey string // 처리 중 본문 (Hash)
	inflightKey   string // 처리 시작 시각 (Sorted Set)
	dlqKey        string // Dead Letter Queue (List)
	doneKeyPrefix string // 처리 완료 표시 (String + TTL)
	maxSize       int    // 최대 큐 크기 (0 = 무제한)
}

// NewRedisQueue Redis Queue 생성
func NewRedisQueue(client *redis.Client, queueName string, maxSize int) *RedisQueue {
	return &RedisQueue{
		client:        client,
		queueKey:      fmt.Sprintf("queue:%s", queueName),
		itemsKey:      fmt.Sprintf("queue:%s:items", queueName),
		processingKey: fmt.Sprintf("queue:%s:processing", queueName),
		inflightKey:   fmt.Sprintf("queue:%s:inflight", queueName),
		dlqKey:        fmt.Sprintf("queue:%s:dlq", queueName),
		doneKeyPrefix: fmt.Sprintf("queue:%s:done:", queueName),
		maxSize:       maxSize,
	}
}

// ZPOPMIN + 처리 중 Hash 이동을 원자적으로 수행
var dequeueScript = redis.NewScript(`
	local ids = redis.call('ZPOPMIN', KEYS[1], 1)
	if #ids == 0 then
		return false
	end

	local id = ids[1]
	local data = redis.call('HGET', KEYS[2], id)
	redis.call('HDEL', KEYS[2], id)
	if not data then
		return false
	end

	redis.call('HSET', KEYS[3], id, data)
	redis.call('ZADD', KEYS[4], ARGV[1], id)
	return data
`)

// Enqueue 큐 끝에 메시지 추가
func (q *RedisQueue) Enqueue(ctx context.Context, msg *Message) error {
	if q.maxSize > 0 {
		size, err := q.client.ZCard(ctx, q.queueKey).Result()
		if err != nil {
			return fmt.Errorf("failed to get queue size: %w", err)
		}
		if int(size) >= q.maxSize {
			return ErrQueueFull
		}
	}

	now := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
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

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.itemsKey, msg.ID, data)
		pipe.ZAdd(ctx, q.queueKey, redis.Z{Score: float64(now.UnixMilli()), Member: msg.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// Dequeue 가장 오래된 메시지를 꺼내 처리 중 상태로 옮긴다
func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	keys := []string{q.queueKey, q.itemsKey, q.processingKey, q.inflightKey}
	result, err := dequeueScript.Run(ctx, q.client, keys, time.Now().UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(result), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}

// Complete 처리 완료 (ack)
func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.processingKey, id)
		pipe.ZRem(ctx, q.inflightKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete message: %w", err)
	}
	return nil
}

// Retry 재시도 횟수를 올려 다시 큐에 넣는다. 최대 횟수에 도달하면 DLQ로 이동.
func (q *RedisQueue) Retry(ctx context.Context, msg *Message) error {
	msg.Retries++
	msg.UpdatedAt = time.Now()

	if msg.Retries >= msg.MaxRetries {
		return q.MoveToDLQ(ctx, msg, "max retries exceeded")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, q.processingKey, msg.ID)
		pipe.ZRem(ctx, q.inflightKey, msg.ID)
		pipe.HSet(ctx, q.itemsKey, msg.ID, data)
		pipe.ZAdd(ctx, q.queueKey, redis.Z{Score: float64(msg.UpdatedAt.UnixMilli()), Member: msg.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to retry message: %w", err)
	}
	return nil
}

// MoveToDLQ Dead Letter Queue로 이동
func (q *RedisQueue) MoveToDLQ(ctx context.Context, msg *Message, reason string) error {
	data, err := json.Marshal(DeadLetter{
		Message: *msg,
		Reason:  reason,
		MovedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ item: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.dlqKey, data)
		pipe.HDel(ctx, q.processingKey, msg.ID)
		pipe.ZRem(ctx, q.inflightKey, msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}
	return nil
}

// RecoverStale staleTimeout 이상 처리 중인 메시지를 재시도 경로로 돌려보낸다.
// 처리 도중 죽은 인스턴스가 남긴 메시지가 대상이다.
func (q *RedisQueue) RecoverStale(ctx context.Context, staleTimeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-staleTimeout).UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get stale messages: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		data, err := q.client.HGet(ctx, q.processingKey, id).Result()
		if errors.Is(err, redis.Nil) {
			q.client.ZRem(ctx, q.inflightKey, id)
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to load stale message: %w", err)
		}

		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if err := q.Retry(ctx, &msg); err != nil {
			continue
		}
		recovered++
	}

	return recovered, nil
}

// MarkProcessed 중복 처리 방지 표시
func (q *RedisQueue) MarkProcessed(ctx context.Context, id string, ttl time.Duration) error {
	return q.client.Set(ctx, q.doneKeyPrefix+id, 1, ttl).Err()
}

// IsProcessed 이미 처리된 메시지인지 확인
func (q *RedisQueue) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := q.client.Exists(ctx, q.doneKeyPrefix+id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Size 대기 메시지 수
func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey).Result()
}

// ProcessingCount 처리 중 메시지 수
func (q *RedisQueue) ProcessingCount(ctx context.Context) (int64, error) {
	return q.client.HLen(ctx, q.processingKey).Result()
}

// DLQSize DLQ 크기
func (q *RedisQueue) DLQSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.dlqKey).Result()
}

// PeekDLQ DLQ 최근 항목 조회 (제거하지 않음)
func (q *RedisQueue) PeekDLQ(ctx context.Context, count int64) ([]DeadLetter, error) {
	items, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]DeadLetter, 0, len(items))
	for _, item := range items {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			continue
		}
		result = append(result, dl)
	}
	return result, nil
}

// ClearDLQ DLQ 비우기
func (q *RedisQueue) ClearDLQ(ctx context.Context) error {
	return q.client.Del(ctx, q.dlqKey).Err()
}

// QueueStats 큐 통계
type QueueStats struct {
	QueueSize       int64 `json:"queue_size"`
	ProcessingCount int64 `json:"processing_count"`
	DLQSize         int64 `json:"dlq_size"`
}

// GetStats 큐 통계 조회
func (q *RedisQueue) GetStats(ctx context.Context) (*QueueStats, error) {
	queueSize, err := q.Size(ctx)
	if err != nil {
		return nil, err
	}
	processingCount, err := q.ProcessingCount(ctx)
	if err != nil {
		return nil, err
	}
	dlqSize, err := q.DLQSize(ctx)
	if err != nil {
		return nil, err
	}

	return &QueueStats{
		QueueSize:       queueSize,
		ProcessingCount: processingCount,
		DLQSize:         dlqSize,
	}, nil
}
