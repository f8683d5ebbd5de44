package matchmaking

import (
	"context"

	"github.com/luckyjinx/matching-service/internal/models"
)

// Notifier delivers an outcome to a requester. Implementations must not
// block for long; the engine calls them outside its critical section but on
// the caller's goroutine.
type Notifier interface {
	Deliver(ctx context.Context, requesterID string, result models.MatchResult)
}

// NotifierFunc 함수 어댑터
type NotifierFunc func(ctx context.Context, requesterID string, result models.MatchResult)

func (f NotifierFunc) Deliver(ctx context.Context, requesterID string, result models.MatchResult) {
	f(ctx, requesterID, result)
}

// MultiNotifier 여러 알림 채널로 팬아웃
type MultiNotifier []Notifier

func (m MultiNotifier) Deliver(ctx context.Context, requesterID string, result models.MatchResult) {
	for _, n := range m {
		if n != nil {
			n.Deliver(ctx, requesterID, result)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Deliver(context.Context, string, models.MatchResult) {}
