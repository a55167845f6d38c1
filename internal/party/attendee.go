package party

import (
	"time"

	"golang.org/x/time/rate"
)

// Sync accuracy window.
const (
	AccuracyStart = 2 * TicksPerSecond
	AccuracyDecay = 1 * TicksPerSecond
	AccuracyWorst = 7 * TicksPerSecond
)

// Attendee is one session participating in a party. All fields are guarded
// by the owning party's mutex.
type Attendee struct {
	ID            string
	UserID        string
	UserName      string
	DeviceID      string
	DeviceName    string
	DeviceType    string
	DisplayName   string
	HasPicture    bool
	IsHost        bool
	RemoteControl string

	// Ping is the estimated one-way latency in milliseconds.
	Ping         int64
	pendingPings []int64

	ReportedDeviceID string
	PlaySessionID    string
	CurrentItemID    string
	RunTimeTicks     int64
	IsPaused         bool

	state          AttendeeState
	stateChangedAt time.Time
	positionTicks  int64
	lastUpdate     time.Time
	accuracy       int64
	ignores        map[ProgressEvent]struct{}
	pendingPlay    *pendingPlay
	chatLimiter    *rate.Limiter
	party          *Party
	now            func() time.Time
}

func newAttendee(p *Party, id string, now func() time.Time) *Attendee {
	t := now()
	return &Attendee{
		ID:             id,
		party:          p,
		now:            now,
		state:          Idle,
		stateChangedAt: t,
		lastUpdate:     t,
		accuracy:       AccuracyStart,
		ignores:        make(map[ProgressEvent]struct{}),
	}
}

// State returns the current sync state.
func (a *Attendee) State() AttendeeState { return a.state }

// SetState moves the attendee to s and stamps the transition time.
func (a *Attendee) SetState(s AttendeeState) {
	a.state = s
	a.stateChangedAt = a.now()
}

// SinceStateChange is the time spent in the current state.
func (a *Attendee) SinceStateChange() time.Duration {
	return a.now().Sub(a.stateChangedAt)
}

// PositionTicks is the last recorded position.
func (a *Attendee) PositionTicks() int64 { return a.positionTicks }

// SetPositionTicks records a position and resets the estimate origin.
func (a *Attendee) SetPositionTicks(t int64) {
	a.positionTicks = t
	a.lastUpdate = a.now()
}

// TicksSinceUpdate is the wall-clock time since the last position update,
// truncated to whole milliseconds.
func (a *Attendee) TicksSinceUpdate() int64 {
	ms := a.now().Sub(a.lastUpdate).Milliseconds()
	return ms * TicksPerMillisecond
}

// EstimatedPositionTicks extrapolates the position assuming 1x playback.
func (a *Attendee) EstimatedPositionTicks() int64 {
	if a.IsPaused {
		return a.positionTicks
	}
	return a.positionTicks + a.TicksSinceUpdate()
}

// UpdatePositionTicksFromEstimate folds the elapsed time into the position.
func (a *Attendee) UpdatePositionTicksFromEstimate() {
	a.SetPositionTicks(a.EstimatedPositionTicks())
}

// IsOutOfSync reports whether the estimate is further than the current
// accuracy from target.
func (a *Attendee) IsOutOfSync(target int64) bool {
	d := a.EstimatedPositionTicks() - target
	if d < 0 {
		d = -d
	}
	return d > a.accuracy
}

// Accuracy is the current tolerance in ticks.
func (a *Attendee) Accuracy() int64 { return a.accuracy }

// LowerAccuracy widens the tolerance by one step, capped at AccuracyWorst.
func (a *Attendee) LowerAccuracy() int64 {
	a.accuracy += AccuracyDecay
	if a.accuracy > AccuracyWorst {
		a.accuracy = AccuracyWorst
	}
	return a.accuracy
}

// ResetAccuracy restores the initial tolerance.
func (a *Attendee) ResetAccuracy() { a.accuracy = AccuracyStart }

// IgnoreNext drops the next report of e, which will be the echo of a command we sent.
func (a *Attendee) IgnoreNext(e ProgressEvent) {
	a.ignores[e] = struct{}{}
}

// ShouldIgnore consumes a pending filter for e.
func (a *Attendee) ShouldIgnore(e ProgressEvent) bool {
	if _, ok := a.ignores[e]; ok {
		delete(a.ignores, e)
		return true
	}
	return false
}

// ClearIgnores drops every pending filter.
func (a *Attendee) ClearIgnores() {
	clear(a.ignores)
}

// IsBeingRemoteControlled reports whether another attendee steers this session.
func (a *Attendee) IsBeingRemoteControlled() bool {
	if a.party == nil {
		return false
	}
	_, ok := a.party.targets[a.ID]
	return ok
}

// TargetID follows remote-control links to the session that actually plays
// for this attendee. A dangling link or a cycle stops the walk at the last
// named session.
func (a *Attendee) TargetID() string {
	seen := map[string]struct{}{a.ID: {}}
	cur := a
	for cur.RemoteControl != "" {
		next := a.party.attendees[cur.RemoteControl]
		if next == nil {
			return cur.RemoteControl
		}
		if _, ok := seen[next.ID]; ok {
			return cur.RemoteControl
		}
		seen[next.ID] = struct{}{}
		cur = next
	}
	return cur.ID
}

// PendingPings returns the outstanding heartbeat tokens.
func (a *Attendee) PendingPings() []int64 {
	return append([]int64(nil), a.pendingPings...)
}

func (a *Attendee) addPendingPing(ts int64) {
	a.pendingPings = append(a.pendingPings, ts)
}

func (a *Attendee) removePendingPing(ts int64) bool {
	for i, v := range a.pendingPings {
		if v == ts {
			a.pendingPings = append(a.pendingPings[:i], a.pendingPings[i+1:]...)
			return true
		}
	}
	return false
}

func (a *Attendee) allowChat() bool {
	if a.chatLimiter == nil {
		return true
	}
	return a.chatLimiter.AllowN(a.now(), 1)
}

func (a *Attendee) cancelPendingPlay() *pendingPlay {
	pp := a.pendingPlay
	if pp == nil {
		return nil
	}
	pp.timer.Stop()
	a.pendingPlay = nil
	return pp
}

// Identity is what a session brings to a party when it joins.
type Identity struct {
	UserID     string
	UserName   string
	DeviceID   string
	DeviceName string
	DeviceType string
	HasPicture bool
}
