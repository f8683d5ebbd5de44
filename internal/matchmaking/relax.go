package matchmaking

import (
	"fmt"

	"github.com/luckyjinx/matching-service/internal/models"
)

// RelaxPolicy decides what happens when a pending request's deadline fires.
// Relax returns the criteria for the next generation, or false when the
// request must expire.
type RelaxPolicy interface {
	Relax(req models.MatchRequest) (models.MatchRequest, bool)
}

// FixedRequeue 조건 변경 없이 최대 MaxRequeues번 재대기
type FixedRequeue struct {
	MaxRequeues int
}

func (p FixedRequeue) Relax(req models.MatchRequest) (models.MatchRequest, bool) {
	if req.Generation >= p.MaxRequeues {
		return req, false
	}
	return req, true
}

// DifficultyLadder 재대기마다 난이도를 한 단계 낮춤
type DifficultyLadder struct {
	MaxRequeues int
}

func (p DifficultyLadder) Relax(req models.MatchRequest) (models.MatchRequest, bool) {
	if req.Generation >= p.MaxRequeues {
		return req, false
	}
	req.Difficulty = req.Difficulty.Lower()
	return req, true
}

// PolicyFor 설정 값으로 정책 생성
func PolicyFor(strategy string, maxRequeues int) (RelaxPolicy, error) {
	if maxRequeues < 0 {
		maxRequeues = 0
	}
	switch strategy {
	case "", "fixed":
		return FixedRequeue{MaxRequeues: maxRequeues}, nil
	case "difficulty":
		return DifficultyLadder{MaxRequeues: maxRequeues}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}
