package party

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sentCall struct {
	Kind      string
	Target    string
	Play      PlayRequest
	Playstate PlaystateRequest
	Command   Command
}

type fakeController struct {
	mu    sync.Mutex
	calls []sentCall
	fail  bool
}

func (f *fakeController) record(c sentCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.fail {
		return errors.New("session unreachable")
	}
	return nil
}

func (f *fakeController) SendPlay(_ context.Context, sessionID string, req PlayRequest) error {
	return f.record(sentCall{Kind: "Play", Target: sessionID, Play: req})
}

func (f *fakeController) SendPlaystate(_ context.Context, sessionID string, req PlaystateRequest) error {
	return f.record(sentCall{Kind: string(req.Command), Target: sessionID, Playstate: req})
}

func (f *fakeController) SendGeneralCommand(_ context.Context, sessionID string, cmd Command) error {
	return f.record(sentCall{Kind: cmd.CommandName(), Target: sessionID, Command: cmd})
}

func (f *fakeController) PingSession(_ context.Context, deviceID, playSessionID string) error {
	return f.record(sentCall{Kind: "PingSession", Target: deviceID + "/" + playSessionID})
}

func (f *fakeController) snapshot() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func (f *fakeController) count(kind, target string) int {
	n := 0
	for _, c := range f.snapshot() {
		if c.Kind == kind && (target == "" || c.Target == target) {
			n++
		}
	}
	return n
}

func (f *fakeController) last(kind, target string) (sentCall, bool) {
	calls := f.snapshot()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Kind == kind && calls[i].Target == target {
			return calls[i], true
		}
	}
	return sentCall{}, false
}

func (f *fakeController) sent(target string, cmd Command) bool {
	for _, c := range f.snapshot() {
		if c.Target == target && c.Command == cmd {
			return true
		}
	}
	return false
}

func (f *fakeController) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type fakeDirectory struct {
	mu     sync.Mutex
	users  map[string]*User
	items  map[string]*Item
	hidden map[string]map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:  make(map[string]*User),
		items:  make(map[string]*Item),
		hidden: make(map[string]map[string]bool),
	}
}

func (d *fakeDirectory) GetUser(_ context.Context, userID string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[userID]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (d *fakeDirectory) GetItem(_ context.Context, itemID string) (*Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if it, ok := d.items[itemID]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (d *fakeDirectory) IsItemVisible(_ context.Context, userID, itemID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.items[itemID]; !ok {
		return false, nil
	}
	return !d.hidden[userID][itemID], nil
}

func (d *fakeDirectory) hide(userID, itemID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hidden[userID] == nil {
		d.hidden[userID] = make(map[string]bool)
	}
	d.hidden[userID][itemID] = true
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	m     *Manager
	ctrl  *fakeController
	dir   *fakeDirectory
	clock *fakeClock
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.HostClearGrace = 80 * time.Millisecond
	p.HeartbeatInterval = time.Hour
	p.SendTimeout = time.Second
	p.AttendeeActionMinWait = 20 * time.Second
	return p
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{ctrl: &fakeController{}, dir: newFakeDirectory(), clock: newFakeClock()}
	h.dir.items["X"] = &Item{ID: "X", Name: "Movie X", RunTimeTicks: 3600 * TicksPerSecond}
	h.dir.items["Y"] = &Item{ID: "Y", Name: "Movie Y", RunTimeTicks: 1800 * TicksPerSecond}
	h.dir.items["Z"] = &Item{ID: "Z", Name: "Movie Z", RunTimeTicks: 1200 * TicksPerSecond}
	all := append([]Option{WithPolicy(testPolicy()), WithClock(h.clock.Now)}, opts...)
	h.m = NewManager(h.ctrl, h.dir, nil, all...)
	t.Cleanup(h.m.Stop)
	return h
}

func session(id, user string) SessionInfo {
	return SessionInfo{
		ID:         id,
		UserID:     "u-" + user,
		UserName:   user,
		DeviceID:   "dev-" + id,
		DeviceName: "Device " + id,
		DeviceType: "Web",
	}
}

func playing(s SessionInfo, queue []string, index int, pos int64) SessionInfo {
	s.Queue = queue
	s.PlaylistIndex = index
	s.PlayState = &PlayState{PositionTicks: pos}
	return s
}

func (h *harness) item(id string) Item {
	it, _ := h.dir.GetItem(context.Background(), id)
	return *it
}

func (h *harness) start(t *testing.T, s SessionInfo, itemID, playSession string) {
	t.Helper()
	h.m.PlaybackStart(context.Background(), PlaybackStart{
		SessionID:     s.ID,
		PlaySessionID: playSession,
		DeviceID:      s.DeviceID,
		Item:          h.item(itemID),
		Session:       s,
	})
}

func (h *harness) progress(sessionID, itemID string, ev ProgressEvent, pos int64) {
	h.m.PlaybackProgress(context.Background(), PlaybackProgress{
		SessionID:     sessionID,
		Event:         ev,
		Item:          h.item(itemID),
		PositionTicks: pos,
	})
}

// inspect runs fn with the party lock held.
func inspect(p *Party, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

func stateOf(p *Party, sessionID string) AttendeeState {
	var s AttendeeState
	inspect(p, func() { s = p.attendees[sessionID].State() })
	return s
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
