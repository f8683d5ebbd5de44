package matchmaking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/luckyjinx/matching-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerScheduler_FireAndCancel(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	s := NewTimerScheduler(clk, nil)

	var fired []models.ControlMessage
	handled := signalling(s, func(_ context.Context, msg models.ControlMessage) error {
		fired = append(fired, msg)
		return nil
	})

	ctx := context.Background()
	first := models.ControlMessage{Type: models.ControlTimeout, RequesterID: "A", RequestID: "r1"}
	second := models.ControlMessage{Type: models.ControlTimeout, RequesterID: "B", RequestID: "r2"}

	require.NoError(t, s.Schedule(ctx, first, time.Second))
	require.NoError(t, s.Schedule(ctx, second, 2*time.Second))
	require.NoError(t, s.Cancel(ctx, second))
	assert.Equal(t, 1, s.Len())

	advanceAndWait(t, clk, s, handled, 5*time.Second)
	assert.Equal(t, []models.ControlMessage{first}, fired)
	assert.Equal(t, 0, s.Len())

	// Cancelling after the fire is a no-op.
	assert.NoError(t, s.Cancel(ctx, first))
}

func TestTimerScheduler_RescheduleReplaces(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	s := NewTimerScheduler(clk, nil)

	count := 0
	handled := signalling(s, func(context.Context, models.ControlMessage) error {
		count++
		return nil
	})

	msg := models.ControlMessage{Type: models.ControlTimeout, RequesterID: "A", RequestID: "r1"}
	require.NoError(t, s.Schedule(context.Background(), msg, time.Second))
	require.NoError(t, s.Schedule(context.Background(), msg, 3*time.Second))

	advanceAndWait(t, clk, s, handled, 2*time.Second)
	assert.Equal(t, 0, count)
	advanceAndWait(t, clk, s, handled, 2*time.Second)
	assert.Equal(t, 1, count)
}

type failingScheduler struct {
	err       error
	scheduled int
}

func (f *failingScheduler) Schedule(context.Context, models.ControlMessage, time.Duration) error {
	f.scheduled++
	return f.err
}

func (f *failingScheduler) Cancel(context.Context, models.ControlMessage) error {
	return f.err
}

func TestFallbackScheduler(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	local := NewTimerScheduler(clk, nil)
	primary := &failingScheduler{err: errors.New("redis down")}
	s := NewFallbackScheduler(primary, local, nil, nil)

	msg := models.ControlMessage{Type: models.ControlTimeout, RequesterID: "A", RequestID: "r1"}
	require.NoError(t, s.Schedule(context.Background(), msg, time.Second))
	assert.Equal(t, 1, primary.scheduled)
	assert.Equal(t, 1, local.Len())

	err := s.Cancel(context.Background(), msg)
	assert.Error(t, err)
	assert.Equal(t, 0, local.Len())

	healthy := &failingScheduler{}
	s = NewFallbackScheduler(healthy, local, nil, nil)
	require.NoError(t, s.Schedule(context.Background(), msg, time.Second))
	assert.Equal(t, 0, local.Len())
}

func TestEngine_DegradedSchedulerStillExpires(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	local := NewTimerScheduler(clk, nil)
	notes := newRecorder()
	sched := NewFallbackScheduler(&failingScheduler{err: errors.New("redis down")}, local, nil, nil)
	engine := NewEngine(DefaultConfig(), sched, WithClock(clk), WithNotifier(notes))
	handled := signalling(local, engine.HandleControl)

	_, err := engine.Submit(context.Background(), models.SubmitPayload{RequesterID: "A", Topic: "graphs", Difficulty: "Easy"})
	require.NoError(t, err)

	advanceAndWait(t, clk, local, handled, DefaultTimeout)
	results := notes.results("A")
	require.Len(t, results, 1)
	assert.Equal(t, models.ResultTimedOut, results[0].Status)
}

func TestTimerScheduler_CancelledTimerDoesNotFire(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Unix(0, 0))
	s := NewTimerScheduler(clk, nil)

	calls := make(chan models.ControlMessage, 1)
	s.SetHandler(func(_ context.Context, msg models.ControlMessage) error {
		calls <- msg
		return nil
	})

	msg := models.ControlMessage{Type: models.ControlTimeout, RequesterID: "A", RequestID: "r1"}
	require.NoError(t, s.Schedule(context.Background(), msg, time.Second))

	// The timer already fired but lost the race with Cancel.
	te := s.timers[msg.Key()]
	require.NoError(t, s.Cancel(context.Background(), msg))
	s.fire(msg.Key(), te, msg)

	assert.Empty(t, calls)
}

func TestMultiNotifier(t *testing.T) {
	a, b := newRecorder(), newRecorder()
	var calls int
	n := MultiNotifier{a, nil, b, NotifierFunc(func(context.Context, string, models.MatchResult) { calls++ })}

	n.Deliver(context.Background(), "X", models.MatchResult{Status: models.ResultTimedOut, RequesterID: "X"})

	assert.Len(t, a.results("X"), 1)
	assert.Len(t, b.results("X"), 1)
	assert.Equal(t, 1, calls)
}
