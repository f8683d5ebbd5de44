// Package bridge connects the matching engine to the durable Redis queue.
//
// Inbound submissions and due control messages share one work queue. Control
// messages wait in a delay queue first and a promoter loop moves them into the
// work queue when they fall due. Every instance may publish, but only the
// holder of the consumer lock consumes, promotes and recovers: the pool lives
// in one engine's memory, so a message handled by any other instance would
// address requests it never saw. Standby instances take over when the lock
// expires. Delivery is at-least-once: the consumer acks after the handler
// returns and keeps a per-message dedupe marker.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luckyjinx/matching-service/internal/metrics"
	"github.com/luckyjinx/matching-service/internal/models"
	"github.com/luckyjinx/matching-service/pkg/distributed"
	"github.com/luckyjinx/matching-service/pkg/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	KindSubmit  = "submit"
	KindControl = "control"
)

var ErrQueueUnavailable = errors.New("queue unavailable")

// Handler 큐에서 꺼낸 메시지 처리기.
// retry.Permanent로 감싼 에러를 반환하면 재시도 없이 DLQ로 보낸다.
type Handler interface {
	HandleSubmission(ctx context.Context, payload models.SubmitPayload) error
	HandleControl(ctx context.Context, msg models.ControlMessage) error
}

// Config 브리지 설정
type Config struct {
	QueueName       string
	MaxSize         int // 0 = 무제한
	PollInterval    time.Duration
	PromoteInterval time.Duration
	StaleTimeout    time.Duration
	DedupeTTL       time.Duration
	LockTTL         time.Duration // 소비자 락 TTL
	MaxRetries      int
	PublishRetries  int
}

// DefaultConfig 기본 설정
func DefaultConfig() Config {
	return Config{
		QueueName:       "matching",
		PollInterval:    200 * time.Millisecond,
		PromoteInterval: 250 * time.Millisecond,
		StaleTimeout:    30 * time.Second,
		DedupeTTL:       10 * time.Minute,
		LockTTL:         5 * time.Second,
		MaxRetries:      distributed.DefaultMaxRetries,
		PublishRetries:  3,
	}
}

// Bridge Redis 작업 큐 + 지연 큐 브리지
type Bridge struct {
	client     *redis.Client
	queue      *distributed.RedisQueue
	delay      *distributed.DelayQueue
	locks      *distributed.RedisLockManager
	cfg        Config
	instanceID string
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// New 브리지 생성
func New(client *redis.Client, cfg Config, logger *zap.Logger, m *metrics.Collector) *Bridge {
	def := DefaultConfig()
	if cfg.QueueName == "" {
		cfg.QueueName = def.QueueName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = def.PromoteInterval
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = def.StaleTimeout
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = def.DedupeTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.MaxSize < 0 {
		cfg.MaxSize = 0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.PublishRetries <= 0 {
		cfg.PublishRetries = def.PublishRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	queue := distributed.NewRedisQueue(client, cfg.QueueName, cfg.MaxSize)
	return &Bridge{
		client:     client,
		queue:      queue,
		delay:      distributed.NewDelayQueue(client, cfg.QueueName, queue),
		locks:      distributed.NewRedisLockManager(client),
		cfg:        cfg,
		instanceID: uuid.NewString(),
		logger:     logger,
		metrics:    m,
	}
}

// Ping Redis 연결 확인
func (b *Bridge) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// PublishSubmission 제출 요청을 작업 큐에 넣는다.
// 큐가 가득 차면 재시도하지 않고 distributed.ErrQueueFull을 함께 감싸 반환한다.
func (b *Bridge) PublishSubmission(ctx context.Context, payload models.SubmitPayload) error {
	msg, err := distributed.NewMessage(KindSubmit, payload)
	if err != nil {
		return err
	}
	msg.MaxRetries = b.cfg.MaxRetries

	err = b.withRetry(ctx, "publish", func() error {
		err := b.queue.Enqueue(ctx, msg)
		if errors.Is(err, distributed.ErrQueueFull) {
			return retry.Permanent(err)
		}
		return err
	})
	b.metrics.RecordQueueOp("publish", KindSubmit, err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	b.logger.Debug("Published submission",
		zap.String("messageId", msg.ID),
		zap.String("requesterId", payload.RequesterID))
	return nil
}

// Schedule 제어 메시지를 delay 후 작업 큐로 보내도록 예약한다
func (b *Bridge) Schedule(ctx context.Context, ctrl models.ControlMessage, delay time.Duration) error {
	msg, err := distributed.NewMessage(KindControl, ctrl)
	if err != nil {
		return err
	}
	msg.MaxRetries = b.cfg.MaxRetries
	due := time.Now().Add(delay)

	err = b.withRetry(ctx, "schedule", func() error {
		return b.delay.Schedule(ctx, ctrl.Key(), msg, due)
	})
	b.metrics.RecordQueueOp("schedule", KindControl, err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Cancel 아직 만기되지 않은 예약 제거. 이미 이동된 메시지는 엔진이 걸러낸다.
func (b *Bridge) Cancel(ctx context.Context, ctrl models.ControlMessage) error {
	_, err := b.delay.Remove(ctx, ctrl.Key())
	b.metrics.RecordQueueOp("cancel", KindControl, err)
	return err
}

// Stats 큐 통계
func (b *Bridge) Stats(ctx context.Context) (*distributed.QueueStats, error) {
	return b.queue.GetStats(ctx)
}

// DeadLetters DLQ 앞쪽 n개 조회
func (b *Bridge) DeadLetters(ctx context.Context, n int64) ([]distributed.DeadLetter, error) {
	return b.queue.PeekDLQ(ctx, n)
}

// ClearDeadLetters DLQ 비우기
func (b *Bridge) ClearDeadLetters(ctx context.Context) error {
	return b.queue.ClearDLQ(ctx)
}

// Delayed 아직 승격되지 않은 지연 메시지 수
func (b *Bridge) Delayed(ctx context.Context) (int64, error) {
	return b.delay.Len(ctx)
}

// Run 소비자 락을 얻을 때까지 대기한 뒤 소비, 지연 메시지 승격, 멈춘 메시지 복구
// 루프를 실행한다. 락을 잃으면 루프를 멈추고 다시 대기한다. ctx가 끝나면 nil.
func (b *Bridge) Run(ctx context.Context, h Handler) error {
	b.logger.Info("Queue bridge started",
		zap.String("queue", b.cfg.QueueName),
		zap.String("instanceId", b.instanceID))
	defer b.logger.Info("Queue bridge stopped")

	for {
		lock, err := b.awaitLeadership(ctx)
		if err != nil {
			return nil
		}

		err = b.lead(ctx, h, lock)
		if err != nil && !errors.Is(err, errLeadershipLost) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

var errLeadershipLost = errors.New("consumer lock lost")

func (b *Bridge) lockKey() string {
	return fmt.Sprintf("matching:consumer:%s", b.cfg.QueueName)
}

// awaitLeadership 락을 얻거나 ctx가 끝날 때까지 대기한다
func (b *Bridge) awaitLeadership(ctx context.Context) (*distributed.RedisLock, error) {
	standby := false
	for {
		lock, err := b.locks.TryLockWithRetry(ctx, b.lockKey(), b.instanceID, b.cfg.LockTTL, 3, b.cfg.LockTTL/4)
		if err == nil {
			b.logger.Info("Acquired consumer lock", zap.String("instanceId", b.instanceID))
			return lock, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, distributed.ErrLockNotAcquired) {
			if !standby {
				b.logger.Info("Another instance is consuming, standing by",
					zap.String("queue", b.cfg.QueueName))
				standby = true
			}
			continue
		}

		b.metrics.RecordTransportFailure("lock")
		b.logger.Error("Failed to acquire consumer lock", zap.Error(err))
		if !sleep(ctx, b.cfg.LockTTL/2) {
			return nil, ctx.Err()
		}
	}
}

// lead 락을 보유한 동안 루프를 돌린다. 락 연장에 실패하면 errLeadershipLost.
func (b *Bridge) lead(ctx context.Context, h Handler, lock *distributed.RedisLock) error {
	defer func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, distributed.ErrLockNotHeld) {
			b.logger.Warn("Failed to release consumer lock", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return b.keepLeadership(gctx, lock) })
	g.Go(func() error { return b.consume(gctx, h, lock) })
	g.Go(func() error { return b.promote(gctx) })
	g.Go(func() error { return b.recoverStale(gctx) })

	return g.Wait()
}

func (b *Bridge) keepLeadership(ctx context.Context, lock *distributed.RedisLock) error {
	ticker := time.NewTicker(b.cfg.LockTTL / 3)
	defer ticker.Stop()

	held := lock
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		var err error
		held, err = b.locks.AcquireOrExtend(ctx, held, b.lockKey(), b.instanceID, b.cfg.LockTTL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("Lost consumer lock", zap.Error(err))
			return errLeadershipLost
		}
	}
}

func (b *Bridge) consume(ctx context.Context, h Handler, lock *distributed.RedisLock) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		// TTL이 끝났는데 연장 루프가 아직 모를 수 있다
		held, err := lock.IsHeld(ctx)
		if err == nil && !held {
			b.logger.Warn("Consumer lock expired, stopping consumption")
			return errLeadershipLost
		}

		msg, err := b.queue.Dequeue(ctx)
		if errors.Is(err, distributed.ErrQueueEmpty) {
			if !sleep(ctx, b.cfg.PollInterval) {
				return nil
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.metrics.RecordTransportFailure("dequeue")
			b.logger.Error("Failed to dequeue", zap.Error(err))
			if !sleep(ctx, b.cfg.PollInterval) {
				return nil
			}
			continue
		}

		b.process(ctx, h, msg)
	}
}

func (b *Bridge) process(ctx context.Context, h Handler, msg *distributed.Message) {
	// ack와 표시는 종료 중에도 마무리한다
	ackCtx := context.WithoutCancel(ctx)

	done, err := b.queue.IsProcessed(ackCtx, msg.ID)
	if err != nil {
		b.logger.Warn("Failed to check dedupe marker", zap.String("messageId", msg.ID), zap.Error(err))
	}
	if done {
		b.logger.Debug("Skipping duplicate message", zap.String("messageId", msg.ID))
		b.ack(ackCtx, msg)
		return
	}

	err = b.dispatch(ctx, h, msg)
	b.metrics.RecordQueueOp("consume", msg.Kind, err)

	switch {
	case err == nil:
		if err := b.queue.MarkProcessed(ackCtx, msg.ID, b.cfg.DedupeTTL); err != nil {
			b.logger.Warn("Failed to mark message processed", zap.String("messageId", msg.ID), zap.Error(err))
		}
		b.ack(ackCtx, msg)
	case retry.IsPermanent(err):
		b.logger.Warn("Dropping unprocessable message",
			zap.String("messageId", msg.ID),
			zap.String("kind", msg.Kind),
			zap.Error(err))
		if err := b.queue.MoveToDLQ(ackCtx, msg, err.Error()); err != nil {
			b.logger.Error("Failed to move message to DLQ", zap.String("messageId", msg.ID), zap.Error(err))
		}
	default:
		b.logger.Warn("Message handler failed, retrying",
			zap.String("messageId", msg.ID),
			zap.Int("retries", msg.Retries),
			zap.Error(err))
		if err := b.queue.Retry(ackCtx, msg); err != nil {
			b.logger.Error("Failed to retry message", zap.String("messageId", msg.ID), zap.Error(err))
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, h Handler, msg *distributed.Message) error {
	switch msg.Kind {
	case KindSubmit:
		var payload models.SubmitPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode submission: %w", err))
		}
		return h.HandleSubmission(ctx, payload)
	case KindControl:
		var ctrl models.ControlMessage
		if err := json.Unmarshal(msg.Payload, &ctrl); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode control message: %w", err))
		}
		return h.HandleControl(ctx, ctrl)
	}
	return retry.Permanent(fmt.Errorf("unknown message kind %q", msg.Kind))
}

func (b *Bridge) ack(ctx context.Context, msg *distributed.Message) {
	if err := b.queue.Complete(ctx, msg.ID); err != nil {
		b.logger.Error("Failed to ack message", zap.String("messageId", msg.ID), zap.Error(err))
	}
}

// promote 만기된 제어 메시지를 작업 큐로 승격한다
func (b *Bridge) promote(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := b.delay.PromoteDue(ctx, time.Now(), 100)
		if err != nil {
			if ctx.Err() == nil {
				b.metrics.RecordTransportFailure("promote")
				b.logger.Error("Failed to promote due messages", zap.Error(err))
			}
			continue
		}
		if n > 0 {
			b.logger.Debug("Promoted due control messages", zap.Int("count", n))
		}
	}
}

func (b *Bridge) recoverStale(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.StaleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		n, err := b.queue.RecoverStale(ctx, b.cfg.StaleTimeout)
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Error("Failed to recover stale messages", zap.Error(err))
			}
			continue
		}
		if n > 0 {
			b.logger.Warn("Recovered stale messages", zap.Int("count", n))
		}
	}
}

func (b *Bridge) withRetry(ctx context.Context, op string, fn func() error) error {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = b.cfg.PublishRetries

	return retry.Do(ctx, cfg, fn, func(attempt int, err error) {
		b.metrics.RecordTransportFailure(op)
		b.logger.Warn("Queue operation failed, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
