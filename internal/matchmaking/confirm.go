package matchmaking

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/luckyjinx/matching-service/internal/models"
	"go.uber.org/zap"
)

type ConfirmState string

const (
	ConfirmPending   ConfirmState = "pending"
	ConfirmConfirmed ConfirmState = "confirmed"
	ConfirmDissolved ConfirmState = "dissolved"
)

// session 매칭 후 양측 수락 대기 상태
type session struct {
	id       string
	parties  [2]models.MatchRequest
	accepted map[string]bool
}

func (s *session) index(requesterID string) int {
	for i, p := range s.parties {
		if p.RequesterID == requesterID {
			return i
		}
	}
	return -1
}

func confirmMessage(s *session) models.ControlMessage {
	return models.ControlMessage{
		Type:        models.ControlConfirmTimeout,
		RequesterID: s.parties[0].RequesterID,
		MatchID:     s.id,
	}
}

func (e *Engine) openSessionLocked(matchID string, waiting, arriving models.MatchRequest, fx *effects) {
	s := &session{
		id:       matchID,
		parties:  [2]models.MatchRequest{waiting, arriving},
		accepted: make(map[string]bool, 2),
	}
	e.sessions[matchID] = s
	fx.schedule = append(fx.schedule, scheduled{msg: confirmMessage(s), delay: e.cfg.ConfirmTimeout})
}

// Confirm records one side's accept or decline. Both accepts confirm the
// match; a decline dissolves it and puts the other side back in the pool.
func (e *Engine) Confirm(ctx context.Context, matchID, requesterID string, accept bool) (ConfirmState, error) {
	fx := &effects{}

	e.mu.Lock()
	s, ok := e.sessions[matchID]
	if !ok {
		e.mu.Unlock()
		return "", ErrSessionNotFound
	}
	idx := s.index(requesterID)
	if idx < 0 {
		e.mu.Unlock()
		return "", ErrNotParticipant
	}

	var state ConfirmState
	switch {
	case !accept:
		other := s.parties[1-idx]
		e.dissolveLocked(s, fmt.Sprintf("declined by %s", requesterID), []models.MatchRequest{other}, fx)
		e.metrics.RecordConfirmation("declined")
		state = ConfirmDissolved
	default:
		s.accepted[requesterID] = true
		if len(s.accepted) < len(s.parties) {
			state = ConfirmPending
			break
		}
		e.closeSessionLocked(s, fx)
		for i, p := range s.parties {
			partner := s.parties[1-i]
			e.resolveLocked(nil, models.MatchResult{
				Status:      models.ResultConfirmed,
				RequesterID: p.RequesterID,
				PartnerID:   partner.RequesterID,
				Topic:       s.parties[0].Topic,
				Difficulty:  s.parties[0].Difficulty,
				MatchID:     s.id,
			}, fx)
		}
		e.metrics.RecordConfirmation("confirmed")
		state = ConfirmConfirmed
	}
	fx.pending = e.pool.len()
	e.mu.Unlock()

	e.apply(ctx, fx)
	return state, nil
}

func (e *Engine) expireSessionLocked(msg models.ControlMessage, fx *effects) {
	s, ok := e.sessions[msg.MatchID]
	if !ok {
		return
	}

	var requeue []models.MatchRequest
	for _, p := range s.parties {
		if s.accepted[p.RequesterID] {
			requeue = append(requeue, p)
		}
	}
	e.dissolveLocked(s, "confirmation timed out", requeue, fx)
	e.metrics.RecordConfirmation("expired")
}

func (e *Engine) closeSessionLocked(s *session, fx *effects) {
	delete(e.sessions, s.id)
	fx.cancel = append(fx.cancel, confirmMessage(s))
}

// dissolveLocked notifies both parties and resubmits the given ones as
// fresh requests, unless they already submitted something new meanwhile.
func (e *Engine) dissolveLocked(s *session, reason string, requeue []models.MatchRequest, fx *effects) {
	e.closeSessionLocked(s, fx)

	for i, p := range s.parties {
		e.resolveLocked(nil, models.MatchResult{
			Status:      models.ResultDissolved,
			RequesterID: p.RequesterID,
			PartnerID:   s.parties[1-i].RequesterID,
			MatchID:     s.id,
			Reason:      reason,
		}, fx)
	}

	now := e.clock.Now()
	for _, p := range requeue {
		if e.pool.get(p.RequesterID) != nil {
			continue
		}
		req := models.MatchRequest{
			ID:          uuid.NewString(),
			RequesterID: p.RequesterID,
			Topic:       p.Topic,
			Difficulty:  p.Difficulty,
			SubmittedAt: now,
			Deadline:    now.Add(e.cfg.Timeout),
		}
		e.logger.Info("Resubmitting after dissolved match",
			zap.String("requesterId", req.RequesterID),
			zap.String("matchId", s.id))
		e.placeLocked(&entry{req: req, ticket: newTicket(req)}, fx)
	}
}
