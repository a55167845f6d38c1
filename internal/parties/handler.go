package parties

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/middleware"
	"github.com/watchparty/backend/internal/party"
	"github.com/watchparty/backend/pkg/response"
)

// Service is the part of the party manager the HTTP API drives.
type Service interface {
	Join(ctx context.Context, session party.SessionInfo, req party.JoinRequest) party.JoinResult
	RemoveFromParty(sessionID string) bool
	List() []party.Summary
	Status(sessionID string) (*party.Status, bool)
	IsTargetSafe(sessionID, candidate string) bool
}

// SessionSource returns the live state of a media server session.
type SessionSource interface {
	Session(ctx context.Context, sessionID string) (*party.SessionInfo, error)
}

// JoinBody is the body for POST /party/join.
type JoinBody struct {
	ID            *int64 `json:"id"`
	Name          string `json:"name"`
	RemoteControl string `json:"remote_control"`
}

// Handler handles party HTTP endpoints.
type Handler struct {
	parties  Service
	sessions SessionSource
	logger   *zap.Logger
}

// NewHandler creates a party handler.
func NewHandler(parties Service, sessions SessionSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{parties: parties, sessions: sessions, logger: logger}
}

// Join handles POST /party/join.
func (h *Handler) Join(c *gin.Context) {
	var body JoinBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	sessionID := middleware.SessionID(c)
	session, err := h.sessions.Session(c.Request.Context(), sessionID)
	if errors.Is(err, party.ErrNotFound) {
		response.Unauthorized(c, "session is no longer active")
		return
	}
	if err != nil {
		h.logger.Warn("session lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		response.ServiceUnavailable(c, "media server unavailable")
		return
	}

	res := h.parties.Join(c.Request.Context(), *session, party.JoinRequest{
		PartyID:       body.ID,
		Name:          body.Name,
		RemoteControl: body.RemoteControl,
	})
	response.OK(c, res)
}

// Leave handles POST /party/leave.
func (h *Handler) Leave(c *gin.Context) {
	left := h.parties.RemoveFromParty(middleware.SessionID(c))
	response.OK(c, gin.H{"left": left})
}

// List handles GET /party/list.
func (h *Handler) List(c *gin.Context) {
	list := h.parties.List()
	if list == nil {
		list = []party.Summary{}
	}
	response.OK(c, gin.H{"parties": list})
}

// Status handles GET /party/status.
func (h *Handler) Status(c *gin.Context) {
	st, ok := h.parties.Status(middleware.SessionID(c))
	if !ok {
		response.NotFound(c, "not in a party")
		return
	}
	response.OK(c, st)
}

// RemoteControlSafety handles GET /party/remote-control-safety?remote_control=.
func (h *Handler) RemoteControlSafety(c *gin.Context) {
	target := c.Query("remote_control")
	if target == "" {
		response.BadRequest(c, "remote_control required")
		return
	}
	response.OK(c, gin.H{"is_safe": h.parties.IsTargetSafe(middleware.SessionID(c), target)})
}

// Register mounts the party routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/join", h.Join)
	g.POST("/leave", h.Leave)
	g.GET("/list", h.List)
	g.GET("/status", h.Status)
	g.GET("/remote-control-safety", h.RemoteControlSafety)
}
