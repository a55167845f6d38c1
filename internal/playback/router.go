// Package playback routes outbound party commands. Player commands and
// playstate go to the media server; party messages prefer the party client's
// WebSocket and fall back to the media server when the session has none.
package playback

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/party"
	"github.com/watchparty/backend/internal/realtime"
)

// CommandSender delivers a general command to one session.
type CommandSender interface {
	SendGeneralCommand(ctx context.Context, sessionID string, cmd party.Command) error
}

// Router implements party.Controller.
type Router struct {
	server party.Controller
	hub    CommandSender
	logger *zap.Logger
}

// NewRouter creates a Router. hub may be nil.
func NewRouter(server party.Controller, hub CommandSender, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{server: server, hub: hub, logger: logger}
}

func (r *Router) SendPlay(ctx context.Context, sessionID string, req party.PlayRequest) error {
	return r.server.SendPlay(ctx, sessionID, req)
}

func (r *Router) SendPlaystate(ctx context.Context, sessionID string, req party.PlaystateRequest) error {
	return r.server.SendPlaystate(ctx, sessionID, req)
}

func (r *Router) PingSession(ctx context.Context, deviceID, playSessionID string) error {
	return r.server.PingSession(ctx, deviceID, playSessionID)
}

func (r *Router) SendGeneralCommand(ctx context.Context, sessionID string, cmd party.Command) error {
	if r.hub == nil || party.IsPlayerCommand(cmd) {
		return r.server.SendGeneralCommand(ctx, sessionID, cmd)
	}
	err := r.hub.SendGeneralCommand(ctx, sessionID, cmd)
	if errors.Is(err, realtime.ErrNotConnected) {
		r.logger.Debug("no party socket, using media server",
			zap.String("session_id", sessionID), zap.String("command", cmd.CommandName()))
		return r.server.SendGeneralCommand(ctx, sessionID, cmd)
	}
	return err
}
