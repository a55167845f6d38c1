package emby

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/party"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL + "/", APIKey: "test-key"}, zap.NewNop())
}

func TestSendPlay(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusNoContent)
	})

	audio := 2
	err := c.SendPlay(context.Background(), "s1", party.PlayRequest{
		ItemIDs:            []string{"a", "b"},
		StartIndex:         1,
		StartPositionTicks: 12345,
		PlayCommand:        party.PlayNow,
		MediaSourceID:      "ms",
		AudioStreamIndex:   &audio,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/Sessions/s1/Playing", got.URL.Path)
	assert.Equal(t, "test-key", got.Header.Get("X-Emby-Token"))
	q := got.URL.Query()
	assert.Equal(t, "a,b", q.Get("ItemIds"))
	assert.Equal(t, "1", q.Get("StartIndex"))
	assert.Equal(t, "12345", q.Get("StartPositionTicks"))
	assert.Equal(t, "PlayNow", q.Get("PlayCommand"))
	assert.Equal(t, "ms", q.Get("MediaSourceId"))
	assert.Equal(t, "2", q.Get("AudioStreamIndex"))
	assert.False(t, q.Has("SubtitleStreamIndex"))
}

func TestSendPlaystateSeek(t *testing.T) {
	var path, seek string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		seek = r.URL.Query().Get("SeekPositionTicks")
	})

	pos := int64(900)
	require.NoError(t, c.SendPlaystate(context.Background(), "s1", party.PlaystateRequest{
		Command:           party.PlaystateSeek,
		SeekPositionTicks: &pos,
	}))
	assert.Equal(t, "/Sessions/s1/Playing/Seek", path)
	assert.Equal(t, "900", seek)
}

func TestSendGeneralCommand(t *testing.T) {
	var body generalCommand
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Sessions/s1/Command", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	})

	require.NoError(t, c.SendGeneralCommand(context.Background(), "s1", party.PartySyncWaiting{Name: "Bob"}))
	assert.Equal(t, "PartySyncWaiting", body.Name)
	assert.Equal(t, "Bob", body.Arguments["Name"])
}

func TestErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	err := c.PingSession(context.Background(), "dev", "ps")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}

func TestGetUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Users/u1", r.URL.Path)
		w.Write([]byte(`{"Id":"u1","Name":"Alice","PrimaryImageTag":"abc"}`))
	})

	u, err := c.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &party.User{ID: "u1", Name: "Alice", HasPicture: true}, u)
}

func TestGetItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("Ids") == "missing" {
			w.Write([]byte(`{"Items":[]}`))
			return
		}
		w.Write([]byte(`{"Items":[{"Id":"i1","Name":"Movie","RunTimeTicks":36000000000}]}`))
	})

	item, err := c.GetItem(context.Background(), "i1")
	require.NoError(t, err)
	assert.Equal(t, "Movie", item.Name)
	assert.Equal(t, int64(36000000000), item.RunTimeTicks)

	_, err = c.GetItem(context.Background(), "missing")
	assert.ErrorIs(t, err, party.ErrNotFound)
}

func TestIsItemVisible(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Users/u1/Items/hidden" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"Id":"shown"}`))
	})

	ok, err := c.IsItemVisible(context.Background(), "u1", "shown")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.IsItemVisible(context.Background(), "u1", "hidden")
	require.NoError(t, err)
	assert.False(t, ok)
}

const sessionsJSON = `[
  {"Id":"s1","UserId":"u1","UserName":"Alice","DeviceId":"d1","DeviceName":"TV","Client":"Emby Web",
   "NowPlayingItem":{"Id":"i2","Name":"Ep 2","RunTimeTicks":100},
   "PlayState":{"PositionTicks":50,"IsPaused":true,"MediaSourceId":"m","PlaylistIndex":1},
   "NowPlayingQueue":[{"Id":"i1"},{"Id":"i2"}]},
  {"Id":"s2","UserId":"u2","UserName":"Bob","DeviceId":"d2","DeviceName":"Phone",
   "NowPlayingItem":{"Id":"i9","Name":"Solo","RunTimeTicks":10}}
]`

func TestSessions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sessionsJSON))
	})

	sessions, err := c.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	s1 := sessions[0]
	assert.Equal(t, "Emby Web", s1.DeviceType)
	assert.Equal(t, []string{"i1", "i2"}, s1.Queue)
	assert.Equal(t, 1, s1.PlaylistIndex)
	require.NotNil(t, s1.PlayState)
	assert.True(t, s1.PlayState.IsPaused)

	s2 := sessions[1]
	assert.Equal(t, []string{"i9"}, s2.Queue)
	assert.Equal(t, 0, s2.PlaylistIndex)

	s, err := c.Session(context.Background(), "s2")
	require.NoError(t, err)
	assert.Equal(t, "Bob", s.UserName)

	_, err = c.Session(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionForTokenUsesUserToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Token") != "user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "d2", r.URL.Query().Get("DeviceId"))
		w.Write([]byte(sessionsJSON))
	})

	s, err := c.SessionForToken(context.Background(), "user-token", "d2")
	require.NoError(t, err)
	assert.Equal(t, "s2", s.ID)

	_, err = c.SessionForToken(context.Background(), "bad", "d2")
	require.Error(t, err)
}
