package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/luckyjinx/matching-service/internal/matchmaking"
	"github.com/luckyjinx/matching-service/internal/models"
	"github.com/luckyjinx/matching-service/pkg/retry"
	"go.uber.org/zap"
)

// 큐 모드
const (
	QueueModeRedis    = "redis"
	QueueModeDegraded = "degraded"
	QueueModeLocal    = "local"
)

// Publisher 제출 요청을 내구성 큐로 보낸다
type Publisher interface {
	PublishSubmission(ctx context.Context, payload models.SubmitPayload) error
}

// Options MatchingService 설정
type Options struct {
	QueueMode          string
	CancelOnDisconnect bool
}

// SubmitResult Submit 결과. Result가 nil이면 아직 대기 중이다.
type SubmitResult struct {
	RequestID string
	Result    *models.MatchResult
}

// HealthInfo 상태 요약
type HealthInfo struct {
	Pending   int    `json:"pending"`
	QueueMode string `json:"queueMode"`
}

type MatchingService struct {
	engine    *matchmaking.Engine
	publisher Publisher
	opts      Options
	logger    *zap.Logger
}

// NewMatchingService publisher가 nil이면 비동기 제출은 ErrQueueUnavailable을 반환한다
func NewMatchingService(engine *matchmaking.Engine, publisher Publisher, opts Options, logger *zap.Logger) *MatchingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueMode == "" {
		opts.QueueMode = QueueModeLocal
	}
	return &MatchingService{
		engine:    engine,
		publisher: publisher,
		opts:      opts,
		logger:    logger,
	}
}

// Submit 매칭 요청. wait이면 결과가 나오거나 ctx가 끝날 때까지 기다리고,
// ctx가 먼저 끝나면 이 요청을 철회한다.
func (s *MatchingService) Submit(ctx context.Context, payload models.SubmitPayload, wait bool) (SubmitResult, error) {
	out, err := s.engine.Submit(ctx, payload)
	if err != nil {
		return SubmitResult{}, err
	}

	res := SubmitResult{RequestID: out.Request.ID, Result: out.Result}
	if out.Result != nil || !wait {
		return res, nil
	}

	select {
	case result := <-out.Ticket.Done():
		res.Result = &result
		return res, nil
	case <-ctx.Done():
	}

	if s.engine.CancelTicket(context.WithoutCancel(ctx), out.Ticket) {
		s.logger.Info("Waiting caller went away, request withdrawn",
			zap.String("requesterId", out.Request.RequesterID),
			zap.String("requestId", out.Request.ID))
	}

	// 철회 직전에 결과가 났을 수 있다
	select {
	case result := <-out.Ticket.Done():
		if result.Status != models.ResultCancelled {
			res.Result = &result
			return res, nil
		}
	default:
	}
	return res, ctx.Err()
}

// SubmitAsync 내구성 큐를 통해 제출. 결과는 알림 채널로 전달된다.
func (s *MatchingService) SubmitAsync(ctx context.Context, payload models.SubmitPayload) error {
	if err := matchmaking.ValidatePayload(payload); err != nil {
		return err
	}
	if s.publisher == nil {
		return ErrQueueUnavailable
	}
	if err := s.publisher.PublishSubmission(ctx, payload); err != nil {
		s.logger.Error("Failed to publish submission",
			zap.String("requesterId", payload.RequesterID),
			zap.Error(err))
		if errors.Is(err, ErrQueueUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return nil
}

// Cancel 대기 중인 요청 철회
func (s *MatchingService) Cancel(ctx context.Context, requesterID string) bool {
	return s.engine.Cancel(ctx, requesterID)
}

// Status 대기 상태 조회
func (s *MatchingService) Status(requesterID string) models.QueueStatus {
	return s.engine.Status(requesterID)
}

// Confirm 매칭 수락/거절
func (s *MatchingService) Confirm(ctx context.Context, matchID, requesterID string, accept bool) (matchmaking.ConfirmState, error) {
	return s.engine.Confirm(ctx, matchID, requesterID, accept)
}

// HandleSubmission 큐로 들어온 제출 처리. 잘못된 요청은 재시도하지 않는다.
func (s *MatchingService) HandleSubmission(ctx context.Context, payload models.SubmitPayload) error {
	out, err := s.engine.Submit(ctx, payload)
	if errors.Is(err, matchmaking.ErrInvalidRequest) {
		return retry.Permanent(err)
	}
	if err != nil {
		return err
	}

	s.logger.Debug("Queued submission accepted",
		zap.String("requesterId", out.Request.RequesterID),
		zap.Bool("matched", out.Matched()))
	return nil
}

// HandleControl 만기된 제어 메시지 처리
func (s *MatchingService) HandleControl(ctx context.Context, msg models.ControlMessage) error {
	err := s.engine.HandleControl(ctx, msg)
	if errors.Is(err, matchmaking.ErrUnknownControl) {
		return retry.Permanent(err)
	}
	return err
}

// HandleDisconnect 알림 채널이 끊긴 요청자의 대기 요청을 철회한다
func (s *MatchingService) HandleDisconnect(userID string) {
	if !s.opts.CancelOnDisconnect {
		return
	}
	if s.engine.Cancel(context.Background(), userID) {
		s.logger.Info("Cancelled pending request on disconnect", zap.String("requesterId", userID))
	}
}

// Health 상태 요약
func (s *MatchingService) Health() HealthInfo {
	return HealthInfo{
		Pending:   s.engine.Pending(),
		QueueMode: s.opts.QueueMode,
	}
}
