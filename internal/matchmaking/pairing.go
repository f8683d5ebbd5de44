package matchmaking

import "github.com/luckyjinx/matching-service/internal/models"

// Compatible 같은 주제, 같은 난이도, 다른 요청자일 때만 매칭 가능
func Compatible(a, b models.MatchRequest) bool {
	return a.RequesterID != b.RequesterID &&
		a.Topic == b.Topic &&
		a.Difficulty == b.Difficulty
}

// selectPartner 가장 먼저 도착한 호환 요청을 반환 (없으면 nil)
func (p *pool) selectPartner(req models.MatchRequest) *entry {
	l := p.buckets[keyOf(req)]
	if l == nil {
		return nil
	}
	for el := l.Front(); el != nil; el = el.Next() {
		candidate := el.Value.(*entry)
		if Compatible(candidate.req, req) {
			return candidate
		}
	}
	return nil
}

// pairResults builds the outcome for both sides. The resident request's
// topic and difficulty are reported to both parties.
func pairResults(waiting, arriving models.MatchRequest, matchID string) (forWaiting, forArriving models.MatchResult) {
	forWaiting = models.MatchResult{
		Status:      models.ResultMatched,
		RequesterID: waiting.RequesterID,
		PartnerID:   arriving.RequesterID,
		Topic:       waiting.Topic,
		Difficulty:  waiting.Difficulty,
		MatchID:     matchID,
	}
	forArriving = models.MatchResult{
		Status:      models.ResultMatched,
		RequesterID: arriving.RequesterID,
		PartnerID:   waiting.RequesterID,
		Topic:       waiting.Topic,
		Difficulty:  waiting.Difficulty,
		MatchID:     matchID,
	}
	return forWaiting, forArriving
}
