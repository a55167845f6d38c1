package emby

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/watchparty/backend/internal/party"
)

// SendPlay starts a queue on a session.
func (c *Client) SendPlay(ctx context.Context, sessionID string, req party.PlayRequest) error {
	q := url.Values{}
	q.Set("ItemIds", strings.Join(req.ItemIDs, ","))
	q.Set("StartIndex", strconv.Itoa(req.StartIndex))
	q.Set("StartPositionTicks", strconv.FormatInt(req.StartPositionTicks, 10))
	q.Set("PlayCommand", string(req.PlayCommand))
	if req.MediaSourceID != "" {
		q.Set("MediaSourceId", req.MediaSourceID)
	}
	if req.AudioStreamIndex != nil {
		q.Set("AudioStreamIndex", strconv.Itoa(*req.AudioStreamIndex))
	}
	if req.SubtitleStreamIndex != nil {
		q.Set("SubtitleStreamIndex", strconv.Itoa(*req.SubtitleStreamIndex))
	}
	_, err := c.do(ctx, http.MethodPost, "/Sessions/"+url.PathEscape(sessionID)+"/Playing", q, nil, "")
	return err
}

// SendPlaystate pauses, resumes, seeks or stops a session.
func (c *Client) SendPlaystate(ctx context.Context, sessionID string, req party.PlaystateRequest) error {
	q := url.Values{}
	if req.SeekPositionTicks != nil {
		q.Set("SeekPositionTicks", strconv.FormatInt(*req.SeekPositionTicks, 10))
	}
	path := "/Sessions/" + url.PathEscape(sessionID) + "/Playing/" + string(req.Command)
	_, err := c.do(ctx, http.MethodPost, path, q, nil, "")
	return err
}

type generalCommand struct {
	Name      string            `json:"Name"`
	Arguments map[string]string `json:"Arguments"`
}

// SendGeneralCommand delivers a named command to a session.
func (c *Client) SendGeneralCommand(ctx context.Context, sessionID string, cmd party.Command) error {
	body := generalCommand{Name: cmd.CommandName(), Arguments: cmd.Arguments()}
	_, err := c.do(ctx, http.MethodPost, "/Sessions/"+url.PathEscape(sessionID)+"/Command", nil, body, "")
	return err
}

// PingSession keeps a paused play session from being reaped by the server.
func (c *Client) PingSession(ctx context.Context, deviceID, playSessionID string) error {
	q := url.Values{}
	q.Set("PlaySessionId", playSessionID)
	if deviceID != "" {
		q.Set("DeviceId", deviceID)
	}
	_, err := c.do(ctx, http.MethodPost, "/Sessions/Playing/Ping", q, nil, "")
	return err
}

type embySession struct {
	ID              string          `json:"Id"`
	UserID          string          `json:"UserId"`
	UserName        string          `json:"UserName"`
	DeviceID        string          `json:"DeviceId"`
	DeviceName      string          `json:"DeviceName"`
	Client          string          `json:"Client"`
	NowPlayingItem  *embyItem       `json:"NowPlayingItem"`
	PlayState       *embyPlayState  `json:"PlayState"`
	NowPlayingQueue []embyQueueItem `json:"NowPlayingQueue"`
	PlaylistIndex   *int            `json:"PlaylistIndex"`
}

type embyQueueItem struct {
	ID string `json:"Id"`
}

type embyPlayState struct {
	PositionTicks       int64  `json:"PositionTicks"`
	IsPaused            bool   `json:"IsPaused"`
	MediaSourceID       string `json:"MediaSourceId"`
	AudioStreamIndex    *int   `json:"AudioStreamIndex"`
	SubtitleStreamIndex *int   `json:"SubtitleStreamIndex"`
	PlaylistIndex       *int   `json:"PlaylistIndex"`
}

func (s embySession) toSessionInfo() party.SessionInfo {
	info := party.SessionInfo{
		ID:         s.ID,
		UserID:     s.UserID,
		UserName:   s.UserName,
		DeviceID:   s.DeviceID,
		DeviceName: s.DeviceName,
		DeviceType: s.Client,
	}
	if s.NowPlayingItem != nil {
		item := s.NowPlayingItem.toItem()
		info.NowPlayingItem = &item
	}
	if s.PlayState != nil {
		info.PlayState = &party.PlayState{
			PositionTicks:       s.PlayState.PositionTicks,
			IsPaused:            s.PlayState.IsPaused,
			MediaSourceID:       s.PlayState.MediaSourceID,
			AudioStreamIndex:    s.PlayState.AudioStreamIndex,
			SubtitleStreamIndex: s.PlayState.SubtitleStreamIndex,
		}
	}
	for _, q := range s.NowPlayingQueue {
		info.Queue = append(info.Queue, q.ID)
	}
	switch {
	case s.PlayState != nil && s.PlayState.PlaylistIndex != nil:
		info.PlaylistIndex = *s.PlayState.PlaylistIndex
	case s.PlaylistIndex != nil:
		info.PlaylistIndex = *s.PlaylistIndex
	}
	if len(info.Queue) == 0 && info.NowPlayingItem != nil {
		info.Queue = []string{info.NowPlayingItem.ID}
		info.PlaylistIndex = 0
	}
	return info
}

func parseSessions(data []byte) ([]party.SessionInfo, error) {
	var sessions []embySession
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("parse sessions: %w", err)
	}
	out := make([]party.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.toSessionInfo())
	}
	return out, nil
}

// Sessions lists every active session.
func (c *Client) Sessions(ctx context.Context) ([]party.SessionInfo, error) {
	data, err := c.do(ctx, http.MethodGet, "/Sessions", nil, nil, "")
	if err != nil {
		return nil, err
	}
	return parseSessions(data)
}

// Session returns one active session by id.
func (c *Client) Session(ctx context.Context, sessionID string) (*party.SessionInfo, error) {
	sessions, err := c.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].ID == sessionID {
			return &sessions[i], nil
		}
	}
	return nil, ErrNotFound
}

// SessionForToken resolves the session a user access token is using on
// deviceID. The token is validated by the server itself.
func (c *Client) SessionForToken(ctx context.Context, accessToken, deviceID string) (*party.SessionInfo, error) {
	q := url.Values{}
	q.Set("DeviceId", deviceID)
	data, err := c.do(ctx, http.MethodGet, "/Sessions", q, nil, accessToken)
	if err != nil {
		return nil, err
	}
	sessions, err := parseSessions(data)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if sessions[i].DeviceID == deviceID {
			return &sessions[i], nil
		}
	}
	return nil, ErrNotFound
}
