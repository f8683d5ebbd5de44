package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultOutcomeChannelPrefix = "matching:outcomes:"

// OutcomePublisher 요청자별 Redis Pub/Sub 채널로 결과를 발행한다.
// 다른 인스턴스나 운영 도구가 채널을 구독해 결과를 받는다.
type OutcomePublisher struct {
	client        *redis.Client
	logger        *zap.Logger
	channelPrefix string
}

// NewOutcomePublisher 결과 발행자 생성
func NewOutcomePublisher(client *redis.Client, logger *zap.Logger) *OutcomePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutcomePublisher{
		client:        client,
		logger:        logger,
		channelPrefix: DefaultOutcomeChannelPrefix,
	}
}

// Channel 요청자의 결과 채널 이름
func (p *OutcomePublisher) Channel(requesterID string) string {
	return p.channelPrefix + requesterID
}

// Publish v를 JSON으로 직렬화해 발행
func (p *OutcomePublisher) Publish(ctx context.Context, requesterID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	channel := p.Channel(requesterID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish outcome: %w", err)
	}

	p.logger.Debug("Published outcome", zap.String("channel", channel))
	return nil
}

// Subscribe 요청자 채널 구독. handler가 false를 반환하거나 ctx가 끝나면 종료한다.
func (p *OutcomePublisher) Subscribe(ctx context.Context, requesterID string, handler func(payload []byte) bool) error {
	return p.SubscribeReady(ctx, requesterID, nil, handler)
}

// SubscribeReady 구독이 확인되면 ready를 호출한 뒤 Subscribe처럼 동작한다
func (p *OutcomePublisher) SubscribeReady(ctx context.Context, requesterID string, ready func(), handler func(payload []byte) bool) error {
	channel := p.Channel(requesterID)
	pubsub := p.client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// 구독 확인
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if ready != nil {
		ready()
	}

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !handler([]byte(msg.Payload)) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
