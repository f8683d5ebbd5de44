package matchmaking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/luckyjinx/matching-service/internal/metrics"
	"github.com/luckyjinx/matching-service/internal/models"
	"go.uber.org/zap"
)

// Scheduler delivers a control message back to the engine after a delay.
// Delivery may be late, duplicated or arrive after Cancel; the engine
// discards stale messages.
type Scheduler interface {
	Schedule(ctx context.Context, msg models.ControlMessage, delay time.Duration) error
	Cancel(ctx context.Context, msg models.ControlMessage) error
}

// ControlHandler 만기된 제어 메시지 처리 함수
type ControlHandler func(ctx context.Context, msg models.ControlMessage) error

type timerEntry struct {
	timer clockwork.Timer
	due   time.Time
}

// TimerScheduler 프로세스 내 타이머 기반 스케줄러
type TimerScheduler struct {
	clock   clockwork.Clock
	logger  *zap.Logger
	mu      sync.Mutex
	timers  map[string]*timerEntry
	handler ControlHandler
}

// NewTimerScheduler 타이머 스케줄러 생성
func NewTimerScheduler(clk clockwork.Clock, logger *zap.Logger) *TimerScheduler {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerScheduler{
		clock:  clk,
		logger: logger,
		timers: make(map[string]*timerEntry),
	}
}

// SetHandler 만기 메시지를 받을 핸들러 지정
func (s *TimerScheduler) SetHandler(h ControlHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *TimerScheduler) Schedule(_ context.Context, msg models.ControlMessage, delay time.Duration) error {
	key := msg.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}

	te := &timerEntry{due: s.clock.Now().Add(delay)}
	te.timer = s.clock.AfterFunc(delay, func() { s.fire(key, te, msg) })
	s.timers[key] = te
	return nil
}

func (s *TimerScheduler) Cancel(_ context.Context, msg models.ControlMessage) error {
	key := msg.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if te, ok := s.timers[key]; ok {
		te.timer.Stop()
		delete(s.timers, key)
	}
	return nil
}

// Len 활성 타이머 수
func (s *TimerScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *TimerScheduler) fire(key string, te *timerEntry, msg models.ControlMessage) {
	s.mu.Lock()
	current := s.timers[key] == te
	if current {
		delete(s.timers, key)
	}
	handler := s.handler
	s.mu.Unlock()

	// Stop이 늦어 이미 발화한 타이머
	if !current {
		return
	}

	if handler == nil {
		s.logger.Warn("Timer fired without handler", zap.String("key", key))
		return
	}
	if err := handler(context.Background(), msg); err != nil {
		s.logger.Error("Failed to handle control message",
			zap.String("key", key),
			zap.Error(err))
	}
}

// FallbackScheduler 기본 스케줄러(지연 큐) 실패 시 프로세스 내 타이머로 대체
type FallbackScheduler struct {
	primary  Scheduler
	fallback Scheduler
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func NewFallbackScheduler(primary, fallback Scheduler, logger *zap.Logger, m *metrics.Collector) *FallbackScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackScheduler{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		metrics:  m,
	}
}

func (s *FallbackScheduler) Schedule(ctx context.Context, msg models.ControlMessage, delay time.Duration) error {
	err := s.primary.Schedule(ctx, msg, delay)
	if err == nil {
		return nil
	}

	s.logger.Warn("Delayed queue unavailable, falling back to in-process timer",
		zap.String("key", msg.Key()),
		zap.Error(err))
	s.metrics.RecordTransportFailure("schedule")
	return s.fallback.Schedule(ctx, msg, delay)
}

func (s *FallbackScheduler) Cancel(ctx context.Context, msg models.ControlMessage) error {
	return errors.Join(
		s.primary.Cancel(ctx, msg),
		s.fallback.Cancel(ctx, msg),
	)
}
