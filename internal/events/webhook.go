package events

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/party"
	"github.com/watchparty/backend/pkg/response"
)

// Playback event names.
const (
	EventPlaybackStart    = "PlaybackStart"
	EventPlaybackProgress = "PlaybackProgress"
	EventPlaybackStopped  = "PlaybackStopped"
	EventSessionEnded     = "SessionEnded"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

// Sink is the part of the party manager playback events are delivered to.
type Sink interface {
	PlaybackStart(ctx context.Context, e party.PlaybackStart)
	PlaybackProgress(ctx context.Context, e party.PlaybackProgress)
	PlaybackStopped(ctx context.Context, e party.PlaybackStopped)
	SessionEnded(sessionID string)
}

// SessionSource returns the live state of a media server session.
type SessionSource interface {
	Session(ctx context.Context, sessionID string) (*party.SessionInfo, error)
}

type itemPayload struct {
	ID           string `json:"Id"`
	Name         string `json:"Name"`
	RunTimeTicks int64  `json:"RunTimeTicks"`
}

type playStatePayload struct {
	PositionTicks       int64  `json:"PositionTicks"`
	IsPaused            bool   `json:"IsPaused"`
	MediaSourceID       string `json:"MediaSourceId"`
	AudioStreamIndex    *int   `json:"AudioStreamIndex"`
	SubtitleStreamIndex *int   `json:"SubtitleStreamIndex"`
}

// PlaybackPayload is the body of POST /webhooks/playback.
type PlaybackPayload struct {
	Event         string            `json:"Event" binding:"required"`
	SessionID     string            `json:"SessionId" binding:"required"`
	PlaySessionID string            `json:"PlaySessionId"`
	DeviceID      string            `json:"DeviceId"`
	ProgressEvent string            `json:"ProgressEvent"`
	Item          *itemPayload      `json:"Item"`
	PositionTicks *int64            `json:"PositionTicks"`
	PlayState     *playStatePayload `json:"PlayState"`
	Queue         []string          `json:"Queue"`
	PlaylistIndex int               `json:"PlaylistIndex"`
}

// WebhookHandler handles playback webhooks from the media server.
type WebhookHandler struct {
	sink     Sink
	sessions SessionSource
	secret   string
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables the check.
func NewWebhookHandler(sink Sink, sessions SessionSource, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{sink: sink, sessions: sessions, secret: secret, logger: logger}
}

// Playback handles POST /webhooks/playback.
func (h *WebhookHandler) Playback(c *gin.Context) {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(SecretHeader)), []byte(h.secret)) != 1 {
		response.Unauthorized(c, "invalid webhook secret")
		return
	}
	var body PlaybackPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	switch body.Event {
	case EventPlaybackStart:
		if body.Item == nil {
			response.BadRequest(c, "Item required")
			return
		}
		h.sink.PlaybackStart(ctx, party.PlaybackStart{
			SessionID:     body.SessionID,
			PlaySessionID: body.PlaySessionID,
			DeviceID:      body.DeviceID,
			Item:          body.item(),
			Session:       h.session(ctx, body),
		})
	case EventPlaybackProgress:
		if body.Item == nil {
			response.BadRequest(c, "Item required")
			return
		}
		ev := party.PlaybackProgress{
			SessionID:     body.SessionID,
			PlaySessionID: body.PlaySessionID,
			Event:         party.ProgressEvent(body.ProgressEvent),
			Item:          body.item(),
			PlayState:     body.playState(),
		}
		if ev.Event == "" {
			ev.Event = party.EventTimeUpdate
		}
		ev.PositionTicks = ev.PlayState.PositionTicks
		if body.PositionTicks != nil {
			ev.PositionTicks = *body.PositionTicks
		}
		h.sink.PlaybackProgress(ctx, ev)
	case EventPlaybackStopped:
		h.sink.PlaybackStopped(ctx, party.PlaybackStopped{SessionID: body.SessionID, PlaySessionID: body.PlaySessionID})
	case EventSessionEnded:
		h.sink.SessionEnded(body.SessionID)
	default:
		response.BadRequest(c, "unknown event: "+body.Event)
		return
	}

	h.logger.Debug("playback event", zap.String("event", body.Event), zap.String("session_id", body.SessionID))
	c.Status(http.StatusNoContent)
}

func (p PlaybackPayload) item() party.Item {
	return party.Item{ID: p.Item.ID, Name: p.Item.Name, RunTimeTicks: p.Item.RunTimeTicks}
}

func (p PlaybackPayload) playState() party.PlayState {
	if p.PlayState == nil {
		return party.PlayState{}
	}
	return party.PlayState{
		PositionTicks:       p.PlayState.PositionTicks,
		IsPaused:            p.PlayState.IsPaused,
		MediaSourceID:       p.PlayState.MediaSourceID,
		AudioStreamIndex:    p.PlayState.AudioStreamIndex,
		SubtitleStreamIndex: p.PlayState.SubtitleStreamIndex,
	}
}

// session returns the live session, or one rebuilt from the payload when the
// media server cannot be reached.
func (h *WebhookHandler) session(ctx context.Context, p PlaybackPayload) party.SessionInfo {
	if h.sessions != nil {
		s, err := h.sessions.Session(ctx, p.SessionID)
		if err == nil && s.NowPlayingItem != nil && s.NowPlayingItem.ID == p.Item.ID {
			return *s
		}
		if err != nil {
			h.logger.Debug("session lookup failed, using webhook payload", zap.String("session_id", p.SessionID), zap.Error(err))
		}
	}
	item := p.item()
	ps := p.playState()
	s := party.SessionInfo{
		ID:             p.SessionID,
		DeviceID:       p.DeviceID,
		NowPlayingItem: &item,
		PlayState:      &ps,
		Queue:          p.Queue,
		PlaylistIndex:  p.PlaylistIndex,
	}
	if len(s.Queue) == 0 {
		s.Queue = []string{item.ID}
		s.PlaylistIndex = 0
	}
	return s
}
