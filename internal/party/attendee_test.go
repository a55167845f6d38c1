package party

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAttendee(clock *fakeClock) *Attendee {
	p := &Party{attendees: map[string]*Attendee{}, targets: map[string]*Attendee{}}
	a := newAttendee(p, "S1", clock.Now)
	p.attendees[a.ID] = a
	return a
}

func TestEstimatedPositionTicks(t *testing.T) {
	clock := newFakeClock()
	a := newTestAttendee(clock)
	a.SetPositionTicks(10 * TicksPerSecond)

	clock.Advance(1500 * time.Millisecond)
	assert.Equal(t, 10*TicksPerSecond+15_000_000, a.EstimatedPositionTicks())

	a.IsPaused = true
	assert.Equal(t, 10*TicksPerSecond, a.EstimatedPositionTicks())
}

func TestTicksSinceUpdateTruncatesToMilliseconds(t *testing.T) {
	clock := newFakeClock()
	a := newTestAttendee(clock)
	a.SetPositionTicks(0)
	clock.Advance(2*time.Millisecond + 700*time.Microsecond)
	assert.Equal(t, 2*TicksPerMillisecond, a.TicksSinceUpdate())
}

func TestUpdatePositionTicksFromEstimate(t *testing.T) {
	clock := newFakeClock()
	a := newTestAttendee(clock)
	a.SetPositionTicks(TicksPerSecond)
	clock.Advance(3 * time.Second)
	a.UpdatePositionTicksFromEstimate()
	assert.Equal(t, 4*TicksPerSecond, a.PositionTicks())
	assert.Equal(t, int64(0), a.TicksSinceUpdate())
}

func TestIsOutOfSync(t *testing.T) {
	clock := newFakeClock()
	a := newTestAttendee(clock)
	a.IsPaused = true
	a.SetPositionTicks(100 * TicksPerSecond)

	assert.False(t, a.IsOutOfSync(100*TicksPerSecond+AccuracyStart))
	assert.False(t, a.IsOutOfSync(100*TicksPerSecond-AccuracyStart))
	assert.True(t, a.IsOutOfSync(100*TicksPerSecond+AccuracyStart+1))
	assert.True(t, a.IsOutOfSync(100*TicksPerSecond-AccuracyStart-1))
}

func TestLowerAccuracyIsMonotonicAndCapped(t *testing.T) {
	a := newTestAttendee(newFakeClock())
	require.Equal(t, AccuracyStart, a.Accuracy())

	prev := a.Accuracy()
	for range 20 {
		next := a.LowerAccuracy()
		assert.GreaterOrEqual(t, next, prev)
		assert.LessOrEqual(t, next, AccuracyWorst)
		prev = next
	}
	assert.Equal(t, AccuracyWorst, a.Accuracy())

	a.ResetAccuracy()
	assert.Equal(t, AccuracyStart, a.Accuracy())
}

func TestIgnoreNextIsConsumedOnce(t *testing.T) {
	a := newTestAttendee(newFakeClock())
	a.IgnoreNext(EventPause)

	assert.False(t, a.ShouldIgnore(EventUnpause))
	assert.True(t, a.ShouldIgnore(EventPause))
	assert.False(t, a.ShouldIgnore(EventPause))

	a.IgnoreNext(EventPause)
	a.IgnoreNext(EventUnpause)
	a.ClearIgnores()
	assert.False(t, a.ShouldIgnore(EventPause))
	assert.False(t, a.ShouldIgnore(EventUnpause))
}

func TestSetStateStampsTransition(t *testing.T) {
	clock := newFakeClock()
	a := newTestAttendee(clock)
	a.SetState(WaitForPlay)
	clock.Advance(21 * time.Second)
	assert.Equal(t, WaitForPlay, a.State())
	assert.Equal(t, 21*time.Second, a.SinceStateChange())
}

func TestPendingPings(t *testing.T) {
	a := newTestAttendee(newFakeClock())
	a.addPendingPing(10)
	a.addPendingPing(11)
	assert.True(t, a.removePendingPing(10))
	assert.False(t, a.removePendingPing(10))
	assert.Equal(t, []int64{11}, a.PendingPings())
}

func TestAttendeeStateString(t *testing.T) {
	assert.Equal(t, "WaitForSeek", WaitForSeek.String())
	assert.True(t, WaitForPlay.IsWaiting())
	assert.False(t, Syncing.IsWaiting())
}
