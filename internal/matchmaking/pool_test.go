package matchmaking

import (
	"testing"

	"github.com/luckyjinx/matching-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolEntry(requester, topic string, d models.Difficulty) *entry {
	req := models.MatchRequest{ID: requester + "-id", RequesterID: requester, Topic: topic, Difficulty: d}
	return &entry{req: req, ticket: newTicket(req)}
}

func bucketOrder(p *pool, topic string, d models.Difficulty) []string {
	var ids []string
	l := p.buckets[bucketKey{topic: topic, difficulty: d}]
	if l == nil {
		return ids
	}
	for el := l.Front(); el != nil; el = el.Next() {
		ids = append(ids, el.Value.(*entry).req.RequesterID)
	}
	return ids
}

func TestPool_InsertKeepsArrivalOrder(t *testing.T) {
	p := newPool()

	a := poolEntry("A", "graphs", models.DifficultyEasy)
	b := poolEntry("B", "graphs", models.DifficultyEasy)
	c := poolEntry("C", "graphs", models.DifficultyEasy)
	p.insert(a)
	p.insert(b)
	p.insert(c)

	// Requeue B: remove and reinsert with its original sequence.
	p.remove(b)
	p.insert(&entry{req: b.req, seq: b.seq, ticket: b.ticket})
	assert.Equal(t, []string{"A", "B", "C"}, bucketOrder(p, "graphs", models.DifficultyEasy))

	// Requeue A into a different bucket that already has a later arrival.
	d := poolEntry("D", "graphs", models.DifficultyMedium)
	p.insert(d)
	p.remove(a)
	moved := a.req
	moved.Difficulty = models.DifficultyMedium
	p.insert(&entry{req: moved, seq: a.seq, ticket: a.ticket})
	assert.Equal(t, []string{"A", "D"}, bucketOrder(p, "graphs", models.DifficultyMedium))
	assert.Equal(t, []string{"B", "C"}, bucketOrder(p, "graphs", models.DifficultyEasy))
	assert.Equal(t, 4, p.len())
}

func TestPool_RemoveDropsEmptyBucket(t *testing.T) {
	p := newPool()
	a := poolEntry("A", "graphs", models.DifficultyEasy)
	p.insert(a)
	p.remove(a)

	assert.Nil(t, p.get("A"))
	assert.Empty(t, p.buckets)
}

func TestPool_InvariantViolationsPanic(t *testing.T) {
	p := newPool()
	a := poolEntry("A", "graphs", models.DifficultyEasy)
	p.insert(a)

	assert.Panics(t, func() { p.insert(poolEntry("A", "dp", models.DifficultyHard)) })
	assert.Panics(t, func() { p.remove(poolEntry("B", "graphs", models.DifficultyEasy)) })
}

func TestPool_SelectPartner(t *testing.T) {
	p := newPool()
	p.insert(poolEntry("A", "graphs", models.DifficultyEasy))
	p.insert(poolEntry("B", "graphs", models.DifficultyHard))

	partner := p.selectPartner(models.MatchRequest{RequesterID: "C", Topic: "graphs", Difficulty: models.DifficultyEasy})
	require.NotNil(t, partner)
	assert.Equal(t, "A", partner.req.RequesterID)

	assert.Nil(t, p.selectPartner(models.MatchRequest{RequesterID: "A", Topic: "graphs", Difficulty: models.DifficultyEasy}))
	assert.Nil(t, p.selectPartner(models.MatchRequest{RequesterID: "C", Topic: "Graphs", Difficulty: models.DifficultyEasy}))
	assert.Nil(t, p.selectPartner(models.MatchRequest{RequesterID: "C", Topic: "graphs", Difficulty: models.DifficultyMedium}))
}

func TestCompatible(t *testing.T) {
	base := models.MatchRequest{RequesterID: "A", Topic: "graphs", Difficulty: models.DifficultyEasy}

	tests := []struct {
		name  string
		other models.MatchRequest
		want  bool
	}{
		{"same criteria", models.MatchRequest{RequesterID: "B", Topic: "graphs", Difficulty: models.DifficultyEasy}, true},
		{"same requester", models.MatchRequest{RequesterID: "A", Topic: "graphs", Difficulty: models.DifficultyEasy}, false},
		{"other topic", models.MatchRequest{RequesterID: "B", Topic: "dp", Difficulty: models.DifficultyEasy}, false},
		{"other difficulty", models.MatchRequest{RequesterID: "B", Topic: "graphs", Difficulty: models.DifficultyHard}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compatible(base, tt.other))
			assert.Equal(t, tt.want, Compatible(tt.other, base))
		})
	}
}

func TestRelaxPolicies(t *testing.T) {
	req := models.MatchRequest{RequesterID: "A", Topic: "graphs", Difficulty: models.DifficultyHard}

	fixed := FixedRequeue{MaxRequeues: 1}
	next, ok := fixed.Relax(req)
	assert.True(t, ok)
	assert.Equal(t, models.DifficultyHard, next.Difficulty)

	req.Generation = 1
	_, ok = fixed.Relax(req)
	assert.False(t, ok)

	ladder := DifficultyLadder{MaxRequeues: 5}
	req.Generation = 0
	next, ok = ladder.Relax(req)
	assert.True(t, ok)
	assert.Equal(t, models.DifficultyMedium, next.Difficulty)

	req.Difficulty = models.DifficultyEasy
	next, _ = ladder.Relax(req)
	assert.Equal(t, models.DifficultyEasy, next.Difficulty)
}

func TestPolicyFor(t *testing.T) {
	p, err := PolicyFor("", 2)
	require.NoError(t, err)
	assert.Equal(t, FixedRequeue{MaxRequeues: 2}, p)

	p, err = PolicyFor("difficulty", -1)
	require.NoError(t, err)
	assert.Equal(t, DifficultyLadder{MaxRequeues: 0}, p)

	_, err = PolicyFor("random", 1)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}
