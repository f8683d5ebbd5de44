// Package matchmaking pairs practice requests that share a topic and a
// difficulty.
//
// Engine is the single decision authority over the pending pool. Submit,
// Cancel, deadline expiry, queue-delivered control messages and the optional
// confirmation handshake all pass through one mutex. Side effects (timer
// scheduling, notifier delivery) are collected inside the critical section
// and executed after it is released, so no caller blocks while holding it.
package matchmaking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/luckyjinx/matching-service/internal/metrics"
	"github.com/luckyjinx/matching-service/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultConfirmTimeout = 15 * time.Second
)

// Config 엔진 설정
type Config struct {
	Timeout             time.Duration
	Relax               RelaxPolicy
	RequireConfirmation bool
	ConfirmTimeout      time.Duration
}

// DefaultConfig 30초 단일 타임아웃, 재대기 없음
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		Relax:          FixedRequeue{},
		ConfirmTimeout: DefaultConfirmTimeout,
	}
}

// Ticket 대기 중인 요청의 결과 수신 핸들. 결과는 정확히 한 번 전달된다.
type Ticket struct {
	RequestID   string
	RequesterID string
	done        chan models.MatchResult
	resolved    bool // Engine.mu 보호
}

func newTicket(req models.MatchRequest) *Ticket {
	return &Ticket{
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		done:        make(chan models.MatchResult, 1),
	}
}

// Done 결과 채널
func (t *Ticket) Done() <-chan models.MatchResult {
	return t.done
}

// Outcome Submit 결과. Result가 nil이면 대기 중이다.
type Outcome struct {
	Request models.MatchRequest
	Result  *models.MatchResult
	Ticket  *Ticket
}

func (o Outcome) Matched() bool {
	return o.Result != nil && o.Result.Status == models.ResultMatched
}

type scheduled struct {
	msg   models.ControlMessage
	delay time.Duration
}

type delivery struct {
	requesterID string
	result      models.MatchResult
}

// effects are gathered under Engine.mu and applied after it is released.
type effects struct {
	cancel   []models.ControlMessage
	schedule []scheduled
	deliver  []delivery
	pending  int
}

// Engine 매칭 풀, 타임아웃 감독, 확인 세션을 소유
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	pool     *pool
	sessions map[string]*session

	clock     clockwork.Clock
	scheduler Scheduler
	notifier  Notifier
	metrics   *metrics.Collector
	logger    *zap.Logger
}

type Option func(*Engine)

func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine 엔진 생성
func NewEngine(cfg Config, scheduler Scheduler, opts ...Option) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.Relax == nil {
		cfg.Relax = FixedRequeue{}
	}

	e := &Engine{
		cfg:       cfg,
		pool:      newPool(),
		sessions:  make(map[string]*session),
		clock:     clockwork.NewRealClock(),
		scheduler: scheduler,
		notifier:  nopNotifier{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Submit inserts the request or pairs it with the earliest compatible
// waiting request, in one atomic step. A requester that already has a
// pending request is replaced: the old ticket resolves as cancelled and the
// deadline restarts.
func (e *Engine) Submit(ctx context.Context, payload models.SubmitPayload) (Outcome, error) {
	req, err := e.newRequest(payload)
	if err != nil {
		return Outcome{}, err
	}

	fx := &effects{}
	e.mu.Lock()
	out := e.submitLocked(req, fx)
	fx.pending = e.pool.len()
	e.mu.Unlock()

	e.metrics.RecordSubmitted()
	e.apply(ctx, fx)
	return out, nil
}

// Cancel 대기 요청 철회. 제거된 경우에만 true.
func (e *Engine) Cancel(ctx context.Context, requesterID string) bool {
	fx := &effects{}
	e.mu.Lock()
	en := e.pool.get(requesterID)
	if en != nil {
		e.withdrawLocked(en, "cancelled", fx)
	}
	fx.pending = e.pool.len()
	e.mu.Unlock()

	if en == nil {
		return false
	}
	e.metrics.RecordCancelled()
	e.apply(ctx, fx)
	return true
}

// CancelTicket cancels only if the ticket's request is still the live one
// for its requester. A replacement submission is left untouched.
func (e *Engine) CancelTicket(ctx context.Context, t *Ticket) bool {
	fx := &effects{}
	e.mu.Lock()
	en := e.pool.get(t.RequesterID)
	if en != nil && en.req.ID != t.RequestID {
		en = nil
	}
	if en != nil {
		e.withdrawLocked(en, "cancelled", fx)
	}
	fx.pending = e.pool.len()
	e.mu.Unlock()

	if en == nil {
		return false
	}
	e.metrics.RecordCancelled()
	e.apply(ctx, fx)
	return true
}

// Status 폴링용 조회. 해결된 요청과 존재하지 않는 요청은 구분하지 않는다.
func (e *Engine) Status(requesterID string) models.QueueStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pool.get(requesterID) != nil {
		return models.QueueStatusWaiting
	}
	return models.QueueStatusNotFound
}

// Pending 현재 풀 크기
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.len()
}

// Timeout 요청 마감 간격
func (e *Engine) Timeout() time.Duration {
	return e.cfg.Timeout
}

// ValidatePayload 제출 형식 검사. 요청자와 주제는 공백이 아니어야 한다.
func ValidatePayload(p models.SubmitPayload) error {
	if strings.TrimSpace(p.RequesterID) == "" || strings.TrimSpace(p.Topic) == "" {
		return ErrInvalidRequest
	}
	if _, err := models.ParseDifficulty(p.Difficulty); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (e *Engine) newRequest(p models.SubmitPayload) (models.MatchRequest, error) {
	if err := ValidatePayload(p); err != nil {
		return models.MatchRequest{}, err
	}
	difficulty, _ := models.ParseDifficulty(p.Difficulty)

	now := e.clock.Now()
	return models.MatchRequest{
		ID:          uuid.NewString(),
		RequesterID: strings.TrimSpace(p.RequesterID),
		Topic:       strings.TrimSpace(p.Topic),
		Difficulty:  difficulty,
		SubmittedAt: now,
		Deadline:    now.Add(e.cfg.Timeout),
	}, nil
}

func (e *Engine) submitLocked(req models.MatchRequest, fx *effects) Outcome {
	if prev := e.pool.get(req.RequesterID); prev != nil {
		e.withdrawLocked(prev, "replaced", fx)
		e.metrics.RecordReplaced()
		e.logger.Debug("Replaced pending request",
			zap.String("requesterId", req.RequesterID),
			zap.String("previousRequestId", prev.req.ID))
	}
	return e.placeLocked(&entry{req: req, ticket: newTicket(req)}, fx)
}

// placeLocked pairs en with a resident partner or makes it resident.
func (e *Engine) placeLocked(en *entry, fx *effects) Outcome {
	if partner := e.pool.selectPartner(en.req); partner != nil {
		e.removeLocked(partner, fx)
		_, forArriving := e.pairLocked(partner, en, fx)
		return Outcome{Request: en.req, Result: &forArriving, Ticket: en.ticket}
	}

	e.pool.insert(en)
	fx.schedule = append(fx.schedule, scheduled{
		msg:   timeoutMessage(en.req),
		delay: en.req.Deadline.Sub(e.clock.Now()),
	})
	e.logger.Debug("Request pending",
		zap.String("requesterId", en.req.RequesterID),
		zap.String("topic", en.req.Topic),
		zap.Stringer("difficulty", en.req.Difficulty),
		zap.Int("generation", en.req.Generation))
	return Outcome{Request: en.req, Ticket: en.ticket}
}

func (e *Engine) pairLocked(waiting, arriving *entry, fx *effects) (models.MatchResult, models.MatchResult) {
	matchID := uuid.NewString()
	forWaiting, forArriving := pairResults(waiting.req, arriving.req, matchID)

	e.resolveLocked(waiting.ticket, forWaiting, fx)
	e.resolveLocked(arriving.ticket, forArriving, fx)

	now := e.clock.Now()
	e.metrics.RecordMatched(now.Sub(waiting.req.SubmittedAt), now.Sub(arriving.req.SubmittedAt))
	e.logger.Info("Requests matched",
		zap.String("matchId", matchID),
		zap.String("waiting", waiting.req.RequesterID),
		zap.String("arriving", arriving.req.RequesterID),
		zap.String("topic", forWaiting.Topic),
		zap.Stringer("difficulty", forWaiting.Difficulty))

	if e.cfg.RequireConfirmation {
		e.openSessionLocked(matchID, waiting.req, arriving.req, fx)
	}
	return forWaiting, forArriving
}

func (e *Engine) removeLocked(en *entry, fx *effects) {
	e.pool.remove(en)
	fx.cancel = append(fx.cancel, timeoutMessage(en.req))
}

func (e *Engine) withdrawLocked(en *entry, reason string, fx *effects) {
	e.removeLocked(en, fx)
	e.resolveLocked(en.ticket, models.MatchResult{
		Status:      models.ResultCancelled,
		RequesterID: en.req.RequesterID,
		Reason:      reason,
	}, fx)
}

// resolveLocked hands the first result to the waiting ticket and queues
// notifier delivery. Cancelled results stay local.
func (e *Engine) resolveLocked(t *Ticket, result models.MatchResult, fx *effects) {
	if t != nil && !t.resolved {
		t.resolved = true
		t.done <- result
	}
	if result.Status != models.ResultCancelled {
		fx.deliver = append(fx.deliver, delivery{requesterID: result.RequesterID, result: result})
	}
}

func (e *Engine) apply(ctx context.Context, fx *effects) {
	ctx = context.WithoutCancel(ctx)

	for _, msg := range fx.cancel {
		if err := e.scheduler.Cancel(ctx, msg); err != nil {
			e.logger.Warn("Failed to cancel deadline",
				zap.String("key", msg.Key()),
				zap.Error(err))
		}
	}
	for _, s := range fx.schedule {
		if err := e.scheduler.Schedule(ctx, s.msg, s.delay); err != nil {
			e.logger.Error("Failed to schedule deadline",
				zap.String("key", s.msg.Key()),
				zap.Error(err))
			continue
		}
		// 락을 놓은 사이 대상이 사라졌다면 그 Cancel은 Schedule보다 먼저 실행됐다
		if !e.deadlineLive(s.msg) {
			if err := e.scheduler.Cancel(ctx, s.msg); err != nil {
				e.logger.Warn("Failed to cancel orphaned deadline",
					zap.String("key", s.msg.Key()),
					zap.Error(err))
			}
		}
	}
	for _, d := range fx.deliver {
		e.notifier.Deliver(ctx, d.requesterID, d.result)
	}
	e.metrics.SetPending(fx.pending)
}

// deadlineLive 제어 메시지의 대상이 아직 대기 중인지 확인
func (e *Engine) deadlineLive(msg models.ControlMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if msg.Type == models.ControlConfirmTimeout {
		_, ok := e.sessions[msg.MatchID]
		return ok
	}
	return deadlineMatches(e.pool.get(msg.RequesterID), msg)
}

func timeoutMessage(req models.MatchRequest) models.ControlMessage {
	return models.ControlMessage{
		Type:        models.ControlTimeout,
		RequesterID: req.RequesterID,
		Generation:  req.Generation,
		RequestID:   req.ID,
	}
}
