package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/watchparty/backend/internal/party"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	sendBuffer = 256
)

var (
	// ErrNotConnected is returned when a session has no open socket on this instance.
	ErrNotConnected = errors.New("realtime: session not connected")
	// ErrSendBufferFull is returned when every socket of a session is backed up.
	ErrSendBufferFull = errors.New("realtime: send buffer full")
)

// GeneralCommand is the payload pushed to party clients.
type GeneralCommand struct {
	Name      string            `json:"Name"`
	Arguments map[string]string `json:"Arguments"`
}

// Hub maintains session_id -> set of connections.
type Hub struct {
	// sessionID -> map[clientID]*Client
	sessions map[string]map[string]*Client
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]map[string]*Client),
		logger:   logger,
	}
}

// Register adds a client to its session.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("party client connected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// Unregister removes a client from its session.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("party client disconnected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID))
}

// Connected reports whether sessionID has at least one open socket.
func (h *Hub) Connected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// SendGeneralCommand pushes cmd to every socket of sessionID.
func (h *Hub) SendGeneralCommand(ctx context.Context, sessionID string, cmd party.Command) error {
	data, err := json.Marshal(GeneralCommand{Name: cmd.CommandName(), Arguments: cmd.Arguments()})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return h.SendToSession(ctx, sessionID, "GeneralCommand", data)
}

// SendToSession sends a raw event to every socket of sessionID.
func (h *Hub) SendToSession(ctx context.Context, sessionID, event string, data []byte) error {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return ErrNotConnected
	}
	delivered := 0
	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case c.send <- msg:
			delivered++
		default:
			// buffer full, skip
		}
	}
	if delivered == 0 {
		return ErrSendBufferFull
	}
	return nil
}
