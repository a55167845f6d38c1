package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/party"
)

type fakeActions struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeActions) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeActions) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeActions) Chat(sessionID, message string) bool {
	f.record("chat " + sessionID + " " + message)
	return true
}

func (f *fakeActions) SetRemoteControl(sessionID, target string) bool {
	f.record("remote " + sessionID + " " + target)
	return true
}

func (f *fakeActions) Ping(sessionID string) { f.record("ping " + sessionID) }

func (f *fakeActions) Pong(sessionID string, ts int64) {
	f.record("pong " + sessionID + " " + time.UnixMilli(ts).UTC().Format("15:04:05"))
}

func (f *fakeActions) Refresh(sessionID string) { f.record("refresh " + sessionID) }

func (f *fakeActions) AttendeePlay(sessionID, name string) bool {
	f.record("play " + sessionID + " " + name)
	return true
}

func (f *fakeActions) AttendeeKick(sessionID, name string) bool {
	f.record("kick " + sessionID + " " + name)
	return true
}

func testClient(h *Hub, sessionID, id string, buffer int) *Client {
	c := &Client{ID: id, SessionID: sessionID, hub: h, send: make(chan WSMessage, buffer), logger: zap.NewNop()}
	h.Register(c)
	return c
}

func TestSendGeneralCommand(t *testing.T) {
	h := NewHub(zap.NewNop())
	a := testClient(h, "s1", "a", 1)
	b := testClient(h, "s1", "b", 1)

	require.NoError(t, h.SendGeneralCommand(context.Background(), "s1", party.PartySyncReset{Name: "Bob"}))
	for _, c := range []*Client{a, b} {
		msg := <-c.send
		assert.Equal(t, "GeneralCommand", msg.Event)
		var gc GeneralCommand
		require.NoError(t, json.Unmarshal(msg.Data, &gc))
		assert.Equal(t, "PartySyncReset", gc.Name)
		assert.Equal(t, "Bob", gc.Arguments["Name"])
	}
}

func TestSendWithoutSocket(t *testing.T) {
	h := NewHub(zap.NewNop())
	err := h.SendGeneralCommand(context.Background(), "nobody", party.PartyPong{})
	assert.ErrorIs(t, err, ErrNotConnected)

	c := testClient(h, "s1", "a", 1)
	assert.True(t, h.Connected("s1"))
	h.Unregister(c)
	assert.False(t, h.Connected("s1"))
	assert.ErrorIs(t, h.SendGeneralCommand(context.Background(), "s1", party.PartyPong{}), ErrNotConnected)
}

func TestSendBufferFull(t *testing.T) {
	h := NewHub(zap.NewNop())
	testClient(h, "s1", "a", 1)
	require.NoError(t, h.SendGeneralCommand(context.Background(), "s1", party.PartyPong{}))
	err := h.SendGeneralCommand(context.Background(), "s1", party.PartyPong{})
	assert.True(t, errors.Is(err, ErrSendBufferFull))
}

func TestDispatch(t *testing.T) {
	actions := &fakeActions{}
	c := &Client{SessionID: "s1", actions: actions, logger: zap.NewNop()}

	c.dispatch(WSMessage{Event: "Chat", Data: json.RawMessage(`{"message":"hi"}`)})
	c.dispatch(WSMessage{Event: "PartyUpdateRemoteControl", Data: json.RawMessage(`{"remote_control":"tv"}`)})
	c.dispatch(WSMessage{Event: "PartyPing"})
	c.dispatch(WSMessage{Event: "PartyPong", Data: json.RawMessage(`{"ts":0}`)})
	c.dispatch(WSMessage{Event: "PartyRefresh"})
	c.dispatch(WSMessage{Event: "PartyAttendeePlay", Data: json.RawMessage(`{"name":"Bob"}`)})
	c.dispatch(WSMessage{Event: "PartyAttendeeKick", Data: json.RawMessage(`{"name":"Eve"}`)})
	c.dispatch(WSMessage{Event: "Chat", Data: json.RawMessage(`not json`)})
	c.dispatch(WSMessage{Event: "Unknown"})

	assert.Equal(t, []string{
		"chat s1 hi",
		"remote s1 tv",
		"ping s1",
		"pong s1 00:00:00",
		"refresh s1",
		"play s1 Bob",
		"kick s1 Eve",
	}, actions.snapshot())
}

func TestServeWsRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHub(zap.NewNop())
	actions := &fakeActions{}
	validate := func(token string) (string, string, error) {
		if token != "good" {
			return "", "", errors.New("bad token")
		}
		return "s1", "u1", nil
	}
	r := gin.New()
	r.GET("/ws", ServeWs(h, actions, zap.NewNop(), validate))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Connected("s1") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(WSMessage{Event: "Chat", Data: json.RawMessage(`{"message":"hello"}`)}))
	require.Eventually(t, func() bool { return len(actions.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "chat s1 hello", actions.snapshot()[0])

	require.NoError(t, h.SendGeneralCommand(context.Background(), "s1", party.PartyRefreshDone{}))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "GeneralCommand", msg.Event)
	var gc GeneralCommand
	require.NoError(t, json.Unmarshal(msg.Data, &gc))
	assert.Equal(t, "PartyRefreshDone", gc.Name)

	conn.Close()
	require.Eventually(t, func() bool { return !h.Connected("s1") }, 2*time.Second, 10*time.Millisecond)
}

type fakeBridgeHandler struct {
	parties map[string]bool
	chats   []string
}

func (f *fakeBridgeHandler) ExternalChat(partyName, name, avatarURL, message string) bool {
	if !f.parties[partyName] || message == "" {
		return false
	}
	f.chats = append(f.chats, partyName+"|"+name+"|"+avatarURL+"|"+message)
	return true
}

func (f *fakeBridgeHandler) PartyExists(name string) bool { return f.parties[name] }

func TestHandleBridgeMessage(t *testing.T) {
	h := &fakeBridgeHandler{parties: map[string]bool{"Movie Night": true}}
	log := zap.NewNop()

	reply := handleBridgeMessage(h, []byte(`{"MessageType":"Chat","Party":"Movie Night","Data":{"Name":"Disc","AvatarUrl":"http://a","Message":"yo"}}`), log)
	assert.Nil(t, reply)
	assert.Equal(t, []string{"Movie Night|Disc|http://a|yo"}, h.chats)

	reply = handleBridgeMessage(h, []byte(`{"MessageType":"Chat","Party":"Movie Night","Data":{"Name":"Disc","Message":""}}`), log)
	assert.Nil(t, reply)

	reply = handleBridgeMessage(h, []byte(`{"MessageType":"Chat","Party":"Gone","Data":{"Name":"Disc","Message":"yo"}}`), log)
	require.NotNil(t, reply)
	assert.Equal(t, BridgePartyMissing, reply.MessageType)
	assert.Equal(t, "Gone", reply.Party)

	reply = handleBridgeMessage(h, []byte(`{"MessageType":"PartyCheck","Party":"Movie Night"}`), log)
	require.NotNil(t, reply)
	assert.Equal(t, BridgePartyExists, reply.MessageType)

	reply = handleBridgeMessage(h, []byte(`{"MessageType":"PartyCheck","Party":"Gone"}`), log)
	require.NotNil(t, reply)
	assert.Equal(t, BridgePartyMissing, reply.MessageType)

	assert.Nil(t, handleBridgeMessage(h, []byte(`garbage`), log))
	assert.Nil(t, handleBridgeMessage(h, []byte(`{"MessageType":"Other"}`), log))
}
