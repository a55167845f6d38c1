package auth

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/party"
	"github.com/watchparty/backend/pkg/response"
)

// SessionResolver finds the media server session behind a user access token.
type SessionResolver interface {
	SessionForToken(ctx context.Context, accessToken, deviceID string) (*party.SessionInfo, error)
}

// SessionRequest is the body for POST /auth/session.
type SessionRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
	DeviceID    string `json:"device_id" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	sessions SessionResolver
	jwt      *JWTService
	logger   *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(sessions SessionResolver, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, jwt: jwt, logger: logger}
}

// Session handles POST /auth/session.
func (h *Handler) Session(c *gin.Context) {
	var req SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	session, err := h.sessions.SessionForToken(c.Request.Context(), req.AccessToken, req.DeviceID)
	if errors.Is(err, party.ErrNotFound) {
		response.Unauthorized(c, "no active session for this device")
		return
	}
	if err != nil {
		h.logger.Warn("session lookup failed", zap.String("device_id", req.DeviceID), zap.Error(err))
		response.Unauthorized(c, "invalid access token")
		return
	}

	token, err := h.jwt.Generate(session.ID, session.UserID, session.DeviceID)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{
		Token:     token,
		SessionID: session.ID,
		UserID:    session.UserID,
		UserName:  session.UserName,
	})
}
