package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is checked by the session token
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PartyActions is the part of the party manager a socket may drive.
type PartyActions interface {
	Chat(sessionID, message string) bool
	SetRemoteControl(sessionID, target string) bool
	Ping(sessionID string)
	Pong(sessionID string, ts int64)
	Refresh(sessionID string)
	AttendeePlay(sessionID, name string) bool
	AttendeeKick(sessionID, name string) bool
}

// SessionValidator resolves a session token to the media server session it was issued for.
type SessionValidator func(token string) (sessionID, userID string, err error)

// Client represents a single WebSocket connection of a party attendee.
type Client struct {
	ID          string
	SessionID   string
	UserID      string
	ConnectedAt time.Time
	hub         *Hub
	actions     PartyActions
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, actions PartyActions, logger *zap.Logger, validate SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		sessionID, userID, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			SessionID:   sessionID,
			UserID:      userID,
			ConnectedAt: time.Now(),
			hub:         hub,
			actions:     actions,
			conn:        conn,
			send:        make(chan WSMessage, sendBuffer),
			logger:      logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.dispatch(msg)
	}
}

type chatPayload struct {
	Message string `json:"message"`
}

type remoteControlPayload struct {
	RemoteControl string `json:"remote_control"`
}

type pongPayload struct {
	TS int64 `json:"ts"`
}

type attendeePayload struct {
	Name string `json:"name"`
}

// dispatch routes one client message to the party manager.
func (c *Client) dispatch(msg WSMessage) {
	switch msg.Event {
	case "Chat":
		var p chatPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			c.actions.Chat(c.SessionID, p.Message)
		}
	case "PartyUpdateRemoteControl":
		var p remoteControlPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			c.actions.SetRemoteControl(c.SessionID, p.RemoteControl)
		}
	case "PartyPing":
		c.actions.Ping(c.SessionID)
	case "PartyPong":
		var p pongPayload
		if json.Unmarshal(msg.Data, &p) == nil {
			c.actions.Pong(c.SessionID, p.TS)
		}
	case "PartyRefresh":
		c.actions.Refresh(c.SessionID)
	case "PartyAttendeePlay":
		var p attendeePayload
		if json.Unmarshal(msg.Data, &p) == nil {
			c.actions.AttendeePlay(c.SessionID, p.Name)
		}
	case "PartyAttendeeKick":
		var p attendeePayload
		if json.Unmarshal(msg.Data, &p) == nil {
			c.actions.AttendeeKick(c.SessionID, p.Name)
		}
	default:
		c.logger.Debug("ignoring client message", zap.String("event", msg.Event), zap.String("session_id", c.SessionID))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
