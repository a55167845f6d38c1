package party

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinReasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.m.Join(ctx, session("S1", "alice"), JoinRequest{})
	assert.False(t, res.Success)
	assert.Equal(t, ReasonMissingTarget, res.Reason)

	res = h.m.Join(ctx, session("S1", "alice"), JoinRequest{Name: "Movie Night"})
	require.True(t, res.Success)

	res = h.m.Join(ctx, session("S2", "bob"), JoinRequest{Name: "movie night"})
	assert.False(t, res.Success)
	assert.Equal(t, ReasonNameTaken, res.Reason)

	missing := int64(999)
	res = h.m.Join(ctx, session("S2", "bob"), JoinRequest{PartyID: &missing})
	assert.False(t, res.Success)
	assert.Equal(t, ReasonNoAccess, res.Reason)
}

func TestCreatePartyTruncatesName(t *testing.T) {
	h := newHarness(t)
	p, err := h.m.CreateParty(context.Background(), session("S1", "alice"), strings.Repeat("x", 40))
	require.NoError(t, err)
	assert.Len(t, p.Name, 24)
}

func TestJoinRejectsUserWithoutAccessToCurrentItem(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Private")
	require.NoError(t, err)
	h.start(t, playing(session("S1", "alice"), []string{"X"}, 0, 0), "X", "ps1")

	h.dir.hide("u-bob", "X")
	_, err = h.m.AddToParty(ctx, session("S2", "bob"), p.ID)
	assert.ErrorIs(t, err, ErrNoAccess)
	assert.Nil(t, h.m.SessionParty("S2"))
}

func TestSessionBelongsToOneParty(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p1, err := h.m.CreateParty(ctx, session("S1", "alice"), "One")
	require.NoError(t, err)
	p2, err := h.m.CreateParty(ctx, session("S2", "bob"), "Two")
	require.NoError(t, err)

	_, err = h.m.AddToParty(ctx, session("S3", "carol"), p1.ID)
	require.NoError(t, err)
	_, err = h.m.AddToParty(ctx, session("S3", "carol"), p2.ID)
	require.NoError(t, err)

	assert.Equal(t, p2, h.m.SessionParty("S3"))
	inspect(p1, func() { assert.Nil(t, p1.Attendee("S3")) })
	inspect(p2, func() { assert.NotNil(t, p2.Attendee("S3")) })
}

func TestLastLeaveDiscardsParty(t *testing.T) {
	var (
		mu    sync.Mutex
		ended []Ended
		left  []string
	)
	bridge := &fakeBridge{}
	h := newHarness(t,
		WithEndedHandler(func(e Ended) {
			mu.Lock()
			defer mu.Unlock()
			ended = append(ended, e)
		}),
		WithAttendanceLog(nil, func(_ int64, _, sessionID, _, _ string) {
			mu.Lock()
			defer mu.Unlock()
			left = append(left, sessionID)
		}),
		WithBridge(bridge),
	)
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Short")
	require.NoError(t, err)
	require.True(t, h.m.Chat("S1", "bye"))
	h.m.SessionEnded("S1")

	assert.Nil(t, h.m.Party(p.ID))
	assert.Nil(t, h.m.SessionParty("S1"))
	assert.Empty(t, h.m.List())
	assert.False(t, h.m.PartyExists("Short"))

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ended) == 1
	}, "ended hook")
	mu.Lock()
	assert.Equal(t, "Short", ended[0].Name)
	require.Len(t, ended[0].Transcript, 1)
	assert.Equal(t, "bye", ended[0].Transcript[0].Message)
	assert.Equal(t, []string{"S1"}, left)
	mu.Unlock()

	eventually(t, func() bool { return bridge.has(BridgePartyEnded, "Short") }, "party ended on bridge")
	eventually(t, func() bool { return bridge.has(BridgeGeneralCommand, "Short") }, "chat on bridge")
}

func TestListAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Status")
	require.NoError(t, err)
	_, err = h.m.AddToParty(ctx, session("S2", "bob"), p.ID)
	require.NoError(t, err)
	h.start(t, playing(session("S1", "alice"), []string{"X", "Y"}, 0, 0), "X", "ps1")

	list := h.m.List()
	require.Len(t, list, 1)
	assert.Equal(t, Summary{ID: p.ID, Name: "Status", Attendees: 2}, list[0])

	st, ok := h.m.Status("S2")
	require.True(t, ok)
	assert.Equal(t, []string{"X", "Y"}, st.Queue)
	require.Len(t, st.Attendees, 2)
	assert.True(t, st.Attendees[0].IsHosting)
	assert.False(t, st.Attendees[0].IsMe)
	assert.True(t, st.Attendees[1].IsMe)

	_, ok = h.m.Status("nobody")
	assert.False(t, ok)
}

// Scenario B: a remote-control loop is detected before it is committed.
func TestIsTargetSafeRejectsCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Loops")
	require.NoError(t, err)
	for _, s := range []SessionInfo{session("S2", "bob"), session("S3", "carol")} {
		_, err = h.m.AddToParty(ctx, s, p.ID)
		require.NoError(t, err)
	}

	require.True(t, h.m.SetRemoteControl("S2", "S3"))
	assert.False(t, h.m.IsTargetSafe("S3", "S2"))
	assert.True(t, h.m.IsTargetSafe("S3", "S4"))
	assert.False(t, h.m.SetRemoteControl("S3", "S2"))

	inspect(p, func() { assert.Empty(t, p.Attendee("S3").RemoteControl) })
}

func TestIsTargetSafeDeepChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("A", "a"), "Chain")
	require.NoError(t, err)
	for _, id := range []string{"B", "C", "D"} {
		_, err = h.m.AddToParty(ctx, session(id, strings.ToLower(id)), p.ID)
		require.NoError(t, err)
	}
	require.True(t, h.m.SetRemoteControl("B", "C"))
	require.True(t, h.m.SetRemoteControl("C", "D"))

	assert.False(t, h.m.IsTargetSafe("D", "B"))
	assert.True(t, h.m.IsTargetSafe("A", "B"))
	inspect(p, func() { assert.Equal(t, "D", p.Attendee("B").TargetID()) })
}

func TestJoinWithRemoteControl(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.m.Join(ctx, session("S1", "alice"), JoinRequest{Name: "Couch", RemoteControl: "TV"})
	require.True(t, res.Success)
	assert.Equal(t, "TV", res.RemoteControl)
	assert.Empty(t, res.Reason)
}

func TestChatIsBroadcastTruncatedAndLimited(t *testing.T) {
	pol := testPolicy()
	pol.ChatMaxLength = 5
	pol.ChatBurst = 1
	pol.ChatPerSecond = 1
	h := newHarness(t, WithPolicy(pol))
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Chatty")
	require.NoError(t, err)
	_, err = h.m.AddToParty(ctx, session("S2", "bob"), p.ID)
	require.NoError(t, err)

	require.True(t, h.m.Chat("S1", "hello world"))
	assert.False(t, h.m.Chat("S1", "again"))
	assert.False(t, h.m.Chat("S2", "   "))

	eventually(t, func() bool {
		c, ok := h.ctrl.last("ChatBroadcast", "S2")
		return ok && c.Command == ChatBroadcast{UserID: "u-alice", Name: "alice", Message: "hello"}
	}, "chat broadcast")

	h.clock.Advance(2 * time.Second)
	assert.True(t, h.m.Chat("S1", "later"))
}

func TestExternalChat(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.CreateParty(context.Background(), session("S1", "alice"), "Bridge")
	require.NoError(t, err)

	assert.True(t, h.m.ExternalChat("bridge", "dave", "https://img/dave.png", "hi from outside"))
	assert.False(t, h.m.ExternalChat("nope", "dave", "", "hi"))
	eventually(t, func() bool {
		c, ok := h.ctrl.last("ChatExternal", "S1")
		return ok && c.Command.(ChatExternal).Name == "dave"
	}, "external chat")
}

func TestPingPong(t *testing.T) {
	h := newHarness(t)
	p, err := h.m.CreateParty(context.Background(), session("S1", "alice"), "Pings")
	require.NoError(t, err)

	h.m.Ping("S1")
	eventually(t, func() bool { return h.ctrl.count("PartyPong", "S1") == 1 }, "pong reply")

	h.m.Heartbeat()
	var ts int64
	inspect(p, func() {
		pending := p.Attendee("S1").PendingPings()
		require.Len(t, pending, 1)
		ts = pending[0]
	})
	h.clock.Advance(300 * time.Millisecond)
	h.m.Pong("S1", ts)
	inspect(p, func() {
		assert.Empty(t, p.Attendee("S1").PendingPings())
		assert.Equal(t, int64(150), p.Attendee("S1").Ping)
	})
}

func TestHostToolsRequireStuckGuest(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Tools")
	require.NoError(t, err)
	_, err = h.m.AddToParty(ctx, session("S2", "bob"), p.ID)
	require.NoError(t, err)
	h.start(t, playing(session("S1", "alice"), []string{"X"}, 0, 0), "X", "ps1")
	require.Equal(t, WaitForPlay, stateOf(p, "S2"))

	assert.False(t, h.m.AttendeeKick("S1", "bob"), "too early")
	assert.False(t, h.m.AttendeeKick("S2", "alice"), "not host")

	h.clock.Advance(21 * time.Second)
	plays := h.ctrl.count("Play", "S2")
	require.True(t, h.m.AttendeePlay("S1", "bob"))
	eventually(t, func() bool { return h.ctrl.count("Play", "S2") == plays+1 }, "replayed")

	h.clock.Advance(21 * time.Second)
	require.True(t, h.m.AttendeeKick("S1", "bob"))
	assert.Nil(t, h.m.SessionParty("S2"))
	eventually(t, func() bool {
		c, ok := h.ctrl.last("PartyLeave", "S2")
		return ok && c.Command.(PartyLeave).Name == "bob"
	}, "kick notification")
}

func TestRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Refresh")
	require.NoError(t, err)
	_, err = h.m.AddToParty(ctx, session("S2", "bob"), p.ID)
	require.NoError(t, err)
	h.start(t, playing(session("S1", "alice"), []string{"X"}, 0, 0), "X", "ps1")

	plays := h.ctrl.count("Play", "S2")
	h.m.Refresh("S2")
	eventually(t, func() bool { return h.ctrl.count("Play", "S2") == plays+1 }, "guest replayed")
	eventually(t, func() bool { return h.ctrl.count("PartyRefreshDone", "S2") == 1 }, "guest refresh done")

	h.m.Refresh("S1")
	assert.Nil(t, h.m.SessionParty("S1"))
	eventually(t, func() bool { return h.ctrl.count("PartyRefreshDone", "S1") == 1 }, "host refresh done")
}

func TestDeliveryFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t)
	h.ctrl.fail = true
	ctx := context.Background()

	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Flaky")
	require.NoError(t, err)
	_, err = h.m.AddToParty(ctx, session("S2", "bob"), p.ID)
	require.NoError(t, err)
	h.start(t, playing(session("S1", "alice"), []string{"X"}, 0, 0), "X", "ps1")

	eventually(t, func() bool { return h.ctrl.count("Play", "S2") == 1 }, "play attempted")
	assert.Equal(t, WaitForPlay, stateOf(p, "S2"))
}

type fakeBridge struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBridge) PublishPartyEvent(_ context.Context, messageType, partyName string, _ Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, messageType+"|"+partyName)
	return nil
}

func (b *fakeBridge) has(messageType, partyName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == messageType+"|"+partyName {
			return true
		}
	}
	return false
}

func TestJoinWhilePlayingReportsFailedHosting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p, err := h.m.CreateParty(ctx, session("S1", "alice"), "Already")
	require.NoError(t, err)

	joiner := session("S2", "bob")
	x := h.item("X")
	joiner.NowPlayingItem = &x
	_, err = h.m.AddToParty(ctx, joiner, p.ID)
	require.NoError(t, err)

	inspect(p, func() { assert.Nil(t, p.Host()) })
	eventually(t, func() bool { return h.ctrl.count("Stop", "S2") == 1 }, "joiner stopped")
	eventually(t, func() bool {
		return h.ctrl.sent("S1", PartyLogMessage{Type: "Reject", Subject: "Failed to host on previous video player."})
	}, "reject logged")
}
