package matchmaking

import (
	"container/list"
	"fmt"

	"github.com/luckyjinx/matching-service/internal/models"
)

type bucketKey struct {
	topic      string
	difficulty models.Difficulty
}

func keyOf(req models.MatchRequest) bucketKey {
	return bucketKey{topic: req.Topic, difficulty: req.Difficulty}
}

// entry 풀이 소유하는 대기 요청 레코드
type entry struct {
	req    models.MatchRequest
	seq    uint64 // 도착 순서. 재삽입되어도 유지된다.
	key    bucketKey
	elem   *list.Element
	ticket *Ticket
}

// pool requesterID -> entry 아레나와 버킷별 FIFO 리스트.
// 동기화는 Engine.mu가 담당한다.
type pool struct {
	entries map[string]*entry
	buckets map[bucketKey]*list.List
	seq     uint64
}

func newPool() *pool {
	return &pool{
		entries: make(map[string]*entry),
		buckets: make(map[bucketKey]*list.List),
	}
}

func (p *pool) get(requesterID string) *entry {
	return p.entries[requesterID]
}

func (p *pool) len() int {
	return len(p.entries)
}

// insert 버킷 안에서 seq 순서를 지키며 삽입
func (p *pool) insert(e *entry) {
	if _, exists := p.entries[e.req.RequesterID]; exists {
		panic(fmt.Sprintf("matchmaking: requester %q already pending", e.req.RequesterID))
	}
	if e.seq == 0 {
		p.seq++
		e.seq = p.seq
	}
	e.key = keyOf(e.req)

	l, ok := p.buckets[e.key]
	if !ok {
		l = list.New()
		p.buckets[e.key] = l
	}

	// Fresh arrivals always land at the back; only requeued entries walk.
	mark := l.Back()
	for mark != nil && mark.Value.(*entry).seq > e.seq {
		mark = mark.Prev()
	}
	if mark == nil {
		e.elem = l.PushFront(e)
	} else {
		e.elem = l.InsertAfter(e, mark)
	}

	p.entries[e.req.RequesterID] = e
}

func (p *pool) remove(e *entry) {
	if cur := p.entries[e.req.RequesterID]; cur != e {
		panic(fmt.Sprintf("matchmaking: entry for %q is not resident", e.req.RequesterID))
	}
	l := p.buckets[e.key]
	if l == nil || e.elem == nil {
		panic(fmt.Sprintf("matchmaking: bucket bookkeeping lost for %q", e.req.RequesterID))
	}

	l.Remove(e.elem)
	if l.Len() == 0 {
		delete(p.buckets, e.key)
	}
	delete(p.entries, e.req.RequesterID)
	e.elem = nil
}
