package matchmaking

import (
	"context"
	"fmt"

	"github.com/luckyjinx/matching-service/internal/models"
	"go.uber.org/zap"
)

// HandleControl routes a due control message. Messages that no longer
// describe the live request or session are dropped, which makes timer
// races and duplicate queue deliveries harmless.
func (e *Engine) HandleControl(ctx context.Context, msg models.ControlMessage) error {
	fx := &effects{}

	e.mu.Lock()
	switch msg.Type {
	case models.ControlTimeout:
		e.expireLocked(msg, fx)
	case models.ControlConfirmTimeout:
		e.expireSessionLocked(msg, fx)
	default:
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownControl, msg.Type)
	}
	fx.pending = e.pool.len()
	e.mu.Unlock()

	e.apply(ctx, fx)
	return nil
}

// deadlineMatches requestId가 없는 메시지는 requesterId + generation만 비교한다
func deadlineMatches(en *entry, msg models.ControlMessage) bool {
	if en == nil || en.req.Generation != msg.Generation {
		return false
	}
	return msg.RequestID == "" || en.req.ID == msg.RequestID
}

// expireLocked runs the Pending -> Expired-Requeue | Expired-Terminal
// transition for one deadline.
func (e *Engine) expireLocked(msg models.ControlMessage, fx *effects) {
	if msg.RequestID == "" {
		e.logger.Warn("Deadline without requestId, matching on generation only",
			zap.String("requesterId", msg.RequesterID),
			zap.Int("generation", msg.Generation))
	}

	en := e.pool.get(msg.RequesterID)
	if !deadlineMatches(en, msg) {
		e.logger.Debug("Dropping stale deadline",
			zap.String("requesterId", msg.RequesterID),
			zap.String("requestId", msg.RequestID),
			zap.Int("generation", msg.Generation))
		return
	}

	e.pool.remove(en)

	next, requeue := e.cfg.Relax.Relax(en.req)
	if !requeue {
		e.resolveLocked(en.ticket, models.MatchResult{
			Status:      models.ResultTimedOut,
			RequesterID: en.req.RequesterID,
			Topic:       en.req.Topic,
			Difficulty:  en.req.Difficulty,
		}, fx)
		e.metrics.RecordTimedOut()
		e.logger.Info("Request timed out",
			zap.String("requesterId", en.req.RequesterID),
			zap.Int("generation", en.req.Generation))
		return
	}

	next.ID = en.req.ID
	next.RequesterID = en.req.RequesterID
	next.SubmittedAt = en.req.SubmittedAt
	next.Generation = en.req.Generation + 1
	next.Deadline = e.clock.Now().Add(e.cfg.Timeout)

	e.metrics.RecordRequeued()
	e.logger.Info("Request requeued",
		zap.String("requesterId", next.RequesterID),
		zap.Int("generation", next.Generation),
		zap.Stringer("difficulty", next.Difficulty))

	// Keep the original arrival position; relaxed criteria may pair it at once.
	e.placeLocked(&entry{req: next, seq: en.seq, ticket: en.ticket}, fx)
}
