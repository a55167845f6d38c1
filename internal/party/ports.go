package party

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Directory implementations for unknown users and items.
var ErrNotFound = errors.New("party: not found")

// Controller delivers commands to media server sessions.
type Controller interface {
	SendPlay(ctx context.Context, sessionID string, req PlayRequest) error
	SendPlaystate(ctx context.Context, sessionID string, req PlaystateRequest) error
	SendGeneralCommand(ctx context.Context, sessionID string, cmd Command) error
	PingSession(ctx context.Context, deviceID, playSessionID string) error
}

// Directory answers identity and visibility questions.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	GetItem(ctx context.Context, itemID string) (*Item, error)
	IsItemVisible(ctx context.Context, userID, itemID string) (bool, error)
}

// BridgePublisher mirrors party chatter to external listeners.
type BridgePublisher interface {
	PublishPartyEvent(ctx context.Context, messageType, partyName string, cmd Command) error
}

// Bridge message types.
const (
	BridgeGeneralCommand = "GeneralCommand"
	BridgePartyEnded     = "PartyEnded"
)

// TranscriptEntry is one chat or log line kept with the party.
type TranscriptEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	UserID  string    `json:"user_id,omitempty"`
	Name    string    `json:"name"`
	Message string    `json:"message"`
}

// Transcript entry kinds.
const (
	TranscriptChat     = "chat"
	TranscriptExternal = "external"
	TranscriptLog      = "log"
)

// Ended describes a party that has just been discarded.
type Ended struct {
	ID         int64
	Name       string
	CreatedAt  time.Time
	EndedAt    time.Time
	Transcript []TranscriptEntry
}

// AttendanceFunc is called after a session joins or leaves a party.
type AttendanceFunc func(partyID int64, partyName, sessionID, userID, displayName string)

// EndedFunc is called after the last attendee leaves.
type EndedFunc func(Ended)
